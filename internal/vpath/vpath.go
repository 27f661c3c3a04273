// Package vpath resolves FTP paths against the virtual filesystem:
// "/" lists repositories, "/repo/..." addresses paths inside one.
package vpath

import (
	"path"
	"strings"
)

// Resolve joins an FTP path argument with the current directory and
// returns an absolute, normalized path. "." is a no-op, ".." pops one
// segment (a no-op at root), and absolute inputs replace the current
// path entirely.
func Resolve(current, input string) string {
	if current == "" {
		current = "/"
	}
	if input == "" {
		return Resolve("/", current)
	}

	joined := input
	if !strings.HasPrefix(input, "/") {
		joined = current + "/" + input
	}

	cleaned := path.Clean("/" + strings.TrimPrefix(joined, "/"))
	return cleaned
}

// Split breaks an absolute virtual path into its repository segment and
// the path inside that repository. The root path yields ("", "").
// The in-repo path never starts or ends with "/".
func Split(abs string) (repo, rest string) {
	trimmed := strings.Trim(abs, "/")
	if trimmed == "" {
		return "", ""
	}
	repo, rest, _ = strings.Cut(trimmed, "/")
	return repo, rest
}
