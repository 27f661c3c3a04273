// Package handler translates FTP verbs into remote repository calls.
// Each verb is a method on Translator, registered in a verb-name lookup
// table consumed by the connection engine.
package handler

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/gitftp/gitftp/internal/remote"
	"github.com/gitftp/gitftp/internal/session"
	"github.com/gitftp/gitftp/internal/transfer"
	"github.com/gitftp/gitftp/internal/vpath"
)

// Conn is the slice of a control connection a handler needs: its
// session, a way to reply, and the data channel for transfers.
type Conn interface {
	Session() *session.Session
	Reply(code int, format string, args ...any)
	// OpenData returns the data connection negotiated by the engine
	// (passive accept or active dial). The handler owns closing it.
	OpenData(ctx context.Context) (net.Conn, error)
}

// Func handles one FTP verb.
type Func func(ctx context.Context, c Conn, arg string)

// Translator holds the collaborators shared by all verb handlers.
type Translator struct {
	storIdleTimeout time.Duration
}

// NewTranslator creates a translator. storIdleTimeout bounds the wait
// between reads while draining an upload; zero selects the default.
func NewTranslator(storIdleTimeout time.Duration) *Translator {
	if storIdleTimeout <= 0 {
		storIdleTimeout = transfer.DefaultIdleTimeout
	}
	return &Translator{storIdleTimeout: storIdleTimeout}
}

// Table returns the verb-name to handler lookup table.
func (t *Translator) Table() map[string]Func {
	return map[string]Func{
		"LIST": t.List,
		"MLSD": t.Mlsd,
		"PWD":  t.Pwd,
		"CWD":  t.Cwd,
		"RETR": t.Retr,
		"STOR": t.Stor,
		"DELE": t.Dele,
		"MKD":  t.Mkd,
		"RMD":  t.Rmd,
	}
}

// requireAuth replies 530 and returns false when the session has not
// completed login.
func requireAuth(c Conn) (*session.Session, bool) {
	s := c.Session()
	if !s.Authenticated() {
		c.Reply(530, "Please login first.")
		return nil, false
	}
	return s, true
}

// Pwd reports the current path verbatim. It never fails.
func (t *Translator) Pwd(ctx context.Context, c Conn, arg string) {
	c.Reply(257, "%q is the current directory.", c.Session().Path())
}

// Cwd changes the current directory after validating that the target
// exists and is a directory.
func (t *Translator) Cwd(ctx context.Context, c Conn, arg string) {
	sess, ok := requireAuth(c)
	if !ok {
		return
	}

	target := vpath.Resolve(sess.Path(), arg)
	if target == sess.Path() {
		c.Reply(250, "Directory unchanged.")
		return
	}

	if target != "/" {
		repo, rest := vpath.Split(target)
		entry, err := sess.Client().GetEntry(ctx, repo, rest)
		if err != nil {
			c.Reply(550, "Directory not found: %v", err)
			return
		}
		if entry.Kind != remote.KindDir {
			c.Reply(550, "Not a directory.")
			return
		}
	}

	sess.SetPath(target)
	c.Reply(250, "Directory successfully changed.")
}

// List sends a UNIX-style long listing over the data channel.
func (t *Translator) List(ctx context.Context, c Conn, arg string) {
	t.list(ctx, c, arg, formatLong)
}

// Mlsd sends a machine-readable listing over the data channel.
func (t *Translator) Mlsd(ctx context.Context, c Conn, arg string) {
	t.list(ctx, c, arg, formatFacts)
}

func (t *Translator) list(ctx context.Context, c Conn, arg string, format func(owner string, e remote.Entry) string) {
	sess, ok := requireAuth(c)
	if !ok {
		return
	}

	arg = stripListFlags(arg)
	full := vpath.Resolve(sess.Path(), arg)
	repo, rest := vpath.Split(full)

	var entries []remote.Entry
	if repo == "" {
		names, err := sess.Client().ListRepositories(ctx)
		if err != nil {
			c.Reply(550, "Failed to list repositories: %v", err)
			return
		}
		for _, name := range names {
			entries = append(entries, remote.Entry{Name: name, Kind: remote.KindDir})
		}
	} else {
		var err error
		entries, err = sess.Client().ListEntries(ctx, repo, rest)
		if err != nil {
			// A repository with zero commits has nothing to list but
			// is not an error.
			if !remote.IsEmptyRepository(err) {
				c.Reply(550, "Failed to list directory: %v", err)
				return
			}
			entries = nil
		}
	}

	c.Reply(150, "File status okay; about to open data connection.")
	dc, err := c.OpenData(ctx)
	if err != nil {
		c.Reply(425, "Can't open data connection.")
		return
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(format(sess.Account(), e))
		b.WriteString("\r\n")
	}
	if err := transfer.Send(dc, []byte(b.String())); err != nil {
		dc.Close()
		c.Reply(426, "Transfer aborted: %v", err)
		return
	}
	dc.Close()
	c.Reply(226, "Directory send OK.")
}

// Retr fetches a file and delivers its decoded bytes over the data
// channel.
func (t *Translator) Retr(ctx context.Context, c Conn, arg string) {
	sess, ok := requireAuth(c)
	if !ok {
		return
	}

	full := vpath.Resolve(sess.Path(), arg)
	repo, rest := vpath.Split(full)
	if repo == "" || rest == "" {
		c.Reply(550, "Specify a file inside a repository.")
		return
	}

	entry, data, err := sess.Client().ReadFile(ctx, repo, rest)
	if err != nil {
		c.Reply(550, "Failed to retrieve file: %v", err)
		return
	}
	if entry.Kind == remote.KindDir {
		c.Reply(550, "Path is a directory, not a file.")
		return
	}

	c.Reply(150, "Opening data connection for file download.")
	dc, err := c.OpenData(ctx)
	if err != nil {
		c.Reply(425, "Can't open data connection.")
		return
	}
	if err := transfer.Send(dc, data); err != nil {
		dc.Close()
		c.Reply(426, "Transfer aborted: %v", err)
		return
	}
	dc.Close()
	c.Reply(226, "Transfer complete.")
}

// Stor buffers the full upload body, then creates or updates the file
// in one commit. Updates carry the content hash observed by the probe
// as the concurrency precondition.
func (t *Translator) Stor(ctx context.Context, c Conn, arg string) {
	sess, ok := requireAuth(c)
	if !ok {
		return
	}

	full := vpath.Resolve(sess.Path(), arg)
	repo, rest := vpath.Split(full)
	if rest == "" && strings.HasPrefix(arg, "/") {
		// Root-relative path without a repository segment: borrow the
		// repository from the current directory.
		if cur, _ := vpath.Split(sess.Path()); cur != "" {
			full = vpath.Resolve("/"+cur, strings.TrimPrefix(arg, "/"))
			repo, rest = vpath.Split(full)
		}
	}
	if repo == "" || rest == "" {
		c.Reply(550, "Specify a repository and file (e.g. /repo/file).")
		return
	}

	c.Reply(150, "Opening data connection for file upload.")
	dc, err := c.OpenData(ctx)
	if err != nil {
		c.Reply(425, "Can't open data connection.")
		return
	}
	body, err := transfer.Drain(dc, t.storIdleTimeout)
	dc.Close()
	if err != nil {
		c.Reply(426, "Transfer aborted: %v", err)
		return
	}

	client := sess.Client()
	message := "FTP upload: " + rest
	entry, err := client.GetEntry(ctx, repo, rest)
	switch {
	case err == nil && entry.Kind == remote.KindDir:
		c.Reply(550, "Path is a directory.")
		return
	case err == nil:
		err = client.UpdateFile(ctx, repo, rest, body, entry.SHA, message)
	case remote.IsNotFound(err):
		err = client.CreateFile(ctx, repo, rest, body, message)
	}
	if err != nil {
		c.Reply(550, "Failed to store file: %v", err)
		return
	}
	c.Reply(226, "Transfer complete. File stored successfully.")
}

// Dele removes a single file in one commit. Directory targets are
// rejected before any remote delete is issued.
func (t *Translator) Dele(ctx context.Context, c Conn, arg string) {
	sess, ok := requireAuth(c)
	if !ok {
		return
	}

	full := vpath.Resolve(sess.Path(), arg)
	repo, rest := vpath.Split(full)
	if repo == "" || rest == "" {
		c.Reply(550, "Specify a file inside a repository.")
		return
	}

	client := sess.Client()
	entry, err := client.GetEntry(ctx, repo, rest)
	if err != nil {
		c.Reply(550, "Failed to delete file: %v", err)
		return
	}
	if entry.Kind == remote.KindDir {
		c.Reply(550, "Cannot delete a directory.")
		return
	}

	if err := client.DeleteFile(ctx, repo, rest, entry.SHA, "FTP delete: "+arg); err != nil {
		c.Reply(550, "Failed to delete file: %v", err)
		return
	}
	c.Reply(250, "File successfully deleted.")
}

// placeholderName is the hidden file that stands in for an empty
// directory, which the remote store cannot represent.
const placeholderName = ".gitkeep"

// Mkd emulates directory creation by committing a placeholder file
// under the target path. Reapplying it to an existing placeholder is a
// no-op success rather than a duplicate commit.
func (t *Translator) Mkd(ctx context.Context, c Conn, arg string) {
	sess, ok := requireAuth(c)
	if !ok {
		return
	}

	full := vpath.Resolve(sess.Path(), arg)
	repo, rest := vpath.Split(full)
	if repo == "" || rest == "" {
		c.Reply(550, "Specify a directory inside a repository.")
		return
	}

	client := sess.Client()
	placeholder := rest + "/" + placeholderName
	_, err := client.GetEntry(ctx, repo, placeholder)
	if err == nil {
		c.Reply(257, "%q directory created.", arg)
		return
	}
	if !remote.IsNotFound(err) {
		c.Reply(550, "Failed to create directory: %v", err)
		return
	}

	if err := client.CreateFile(ctx, repo, placeholder, nil, "FTP mkdir: "+arg); err != nil {
		c.Reply(550, "Failed to create directory: %v", err)
		return
	}
	c.Reply(257, "%q directory created.", arg)
}

// Rmd removes a directory whose immediate entries are all files, one
// commit per file. Repository-level targets and directories with
// subdirectories are refused; there is no recursive delete.
func (t *Translator) Rmd(ctx context.Context, c Conn, arg string) {
	sess, ok := requireAuth(c)
	if !ok {
		return
	}

	full := vpath.Resolve(sess.Path(), arg)
	repo, rest := vpath.Split(full)
	if repo == "" {
		c.Reply(550, "Specify a directory inside a repository.")
		return
	}
	if rest == "" {
		c.Reply(550, "Cannot remove a repository over FTP. Use the provider's own interface.")
		return
	}

	client := sess.Client()
	entries, err := client.ListEntries(ctx, repo, rest)
	if err != nil {
		c.Reply(550, "Failed to remove directory: %v", err)
		return
	}

	// Scan before deleting anything: a nested directory aborts the
	// verb with the tree untouched.
	for _, e := range entries {
		if e.Kind == remote.KindDir {
			c.Reply(550, "Cannot recursively delete directories. Delete files in %s first.", e.Path)
			return
		}
	}

	for _, e := range entries {
		if err := client.DeleteFile(ctx, repo, e.Path, e.SHA, "FTP rmdir: deleting "+e.Name); err != nil {
			c.Reply(550, "Failed to remove directory: %v", err)
			return
		}
	}
	c.Reply(250, "Directory successfully removed.")
}

// stripListFlags drops a leading option token ("-la" etc.) that some
// clients prepend to LIST arguments.
func stripListFlags(arg string) string {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(arg, "-") {
		return arg
	}
	if i := strings.IndexByte(arg, ' '); i >= 0 {
		return strings.TrimSpace(arg[i+1:])
	}
	return ""
}
