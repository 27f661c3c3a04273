package handler

import (
	"fmt"

	"github.com/gitftp/gitftp/internal/remote"
)

// Providers expose no cheap per-entry mtime, so listings carry a fixed
// epoch timestamp.
const factsModify = "19700101000000"

// formatLong renders one entry as a UNIX-style long listing line with
// the account as owner and the fixed epoch date.
func formatLong(owner string, e remote.Entry) string {
	kind := "-"
	if e.Kind == remote.KindDir {
		kind = "d"
	}
	return fmt.Sprintf("%srwxr-xr-x 1 %s %s %d Jan  1 00:00 %s",
		kind, owner, owner, e.Size, e.Name)
}

// formatFacts renders one entry as an MLSD fact line.
func formatFacts(owner string, e remote.Entry) string {
	kind := "file"
	if e.Kind == remote.KindDir {
		kind = "dir"
	}
	return fmt.Sprintf("type=%s;size=%d;modify=%s; %s", kind, e.Size, factsModify, e.Name)
}
