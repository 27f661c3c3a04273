// Package remote provides the repository client facade over the GitHub
// REST API. Handlers talk to the Client interface only; the GitHub
// implementation and its error classification live here.
package remote

import "context"

// Kind distinguishes file entries from directory entries.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
)

// Entry describes one file or directory node as reported by the remote
// store for a single call. Entries are never cached: the store gives no
// staleness guarantee between calls.
type Entry struct {
	Name string
	Path string
	Kind Kind
	Size int64
	// SHA is the content hash backing the optimistic-concurrency
	// precondition on update and delete.
	SHA string
}

// Client is the synchronous facade over one authenticated account on
// the hosting API.
type Client interface {
	// Identity returns the login reported by the remote store for the
	// authenticated token.
	Identity() string

	// ListRepositories lists the repositories visible to the identity.
	ListRepositories(ctx context.Context) ([]string, error)

	// GetEntry fetches the entry at path inside repo. An empty path
	// addresses the repository itself, reported as a directory.
	GetEntry(ctx context.Context, repo, path string) (Entry, error)

	// ListEntries enumerates the immediate entries at path inside repo.
	// A file path yields a single-entry listing.
	ListEntries(ctx context.Context, repo, path string) ([]Entry, error)

	// ReadFile fetches the entry at path and its decoded content. If
	// the path is a directory the entry is returned with nil content.
	ReadFile(ctx context.Context, repo, path string) (Entry, []byte, error)

	// CreateFile creates a new file in a single commit.
	CreateFile(ctx context.Context, repo, path string, content []byte, message string) error

	// UpdateFile replaces a file's content in a single commit. The sha
	// observed on the prior read is the concurrency precondition; a
	// mismatch fails with a conflict error.
	UpdateFile(ctx context.Context, repo, path string, content []byte, sha, message string) error

	// DeleteFile removes a file in a single commit, gated on sha like
	// UpdateFile.
	DeleteFile(ctx context.Context, repo, path, sha, message string) error
}

// Connector establishes an authenticated Client from a secret token.
type Connector interface {
	Connect(ctx context.Context, token string) (Client, error)
}
