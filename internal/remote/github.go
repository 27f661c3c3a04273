package remote

import (
	"context"
	"errors"
	"net/http"
	"path"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/gitftp/gitftp/internal/metrics"
)

// emptyRepoMessage is the API message on a zero-commit repository. The
// status code alone cannot distinguish it from a missing path, so the
// structured message field is matched instead of rendered error text.
const emptyRepoMessage = "This repository is empty."

// GitHubConnector establishes GitHub clients from personal access
// tokens. An empty base URL targets github.com; a GitHub Enterprise
// instance is addressed by its API base URL.
type GitHubConnector struct {
	baseURL string
}

// NewConnector creates a connector for the given API base URL.
func NewConnector(baseURL string) *GitHubConnector {
	return &GitHubConnector{baseURL: baseURL}
}

// Connect implements Connector. The token is verified by fetching the
// authenticated login before any client is handed out.
func (c *GitHubConnector) Connect(ctx context.Context, token string) (Client, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	api := github.NewClient(oauth2.NewClient(ctx, src))

	if c.baseURL != "" {
		var err error
		api, err = api.WithEnterpriseURLs(c.baseURL, c.baseURL)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	user, _, err := api.Users.Get(ctx, "")
	metrics.ObserveRemoteCall("login", start, err)
	if err != nil {
		return nil, &AuthError{Err: err}
	}

	return &GitHub{api: api, login: user.GetLogin()}, nil
}

// GitHub implements Client over the go-github REST bindings for one
// authenticated account.
type GitHub struct {
	api   *github.Client
	login string
}

var _ Client = (*GitHub)(nil)

// Identity implements Client.
func (g *GitHub) Identity() string {
	return g.login
}

// ListRepositories implements Client.
func (g *GitHub) ListRepositories(ctx context.Context) ([]string, error) {
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var names []string
	for {
		start := time.Now()
		repos, resp, err := g.api.Repositories.ListByAuthenticatedUser(ctx, opts)
		metrics.ObserveRemoteCall("list_repositories", start, err)
		if err != nil {
			return nil, g.wrapErr(err, "", "")
		}
		for _, r := range repos {
			names = append(names, r.GetName())
		}
		if resp.NextPage == 0 {
			return names, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetEntry implements Client.
func (g *GitHub) GetEntry(ctx context.Context, repo, pth string) (Entry, error) {
	if pth == "" {
		start := time.Now()
		_, _, err := g.api.Repositories.Get(ctx, g.login, repo)
		metrics.ObserveRemoteCall("get_repository", start, err)
		if err != nil {
			return Entry{}, g.wrapErr(err, repo, pth)
		}
		return Entry{Name: repo, Kind: KindDir}, nil
	}

	start := time.Now()
	file, dir, _, err := g.api.Repositories.GetContents(ctx, g.login, repo, pth, nil)
	metrics.ObserveRemoteCall("get_contents", start, err)
	if err != nil {
		return Entry{}, g.wrapErr(err, repo, pth)
	}
	if dir != nil {
		return Entry{Name: path.Base(pth), Path: pth, Kind: KindDir}, nil
	}
	return entryFromContent(file), nil
}

// ListEntries implements Client.
func (g *GitHub) ListEntries(ctx context.Context, repo, pth string) ([]Entry, error) {
	start := time.Now()
	file, dir, _, err := g.api.Repositories.GetContents(ctx, g.login, repo, pth, nil)
	metrics.ObserveRemoteCall("get_contents", start, err)
	if err != nil {
		return nil, g.wrapErr(err, repo, pth)
	}

	if file != nil {
		return []Entry{entryFromContent(file)}, nil
	}
	entries := make([]Entry, 0, len(dir))
	for _, c := range dir {
		entries = append(entries, entryFromContent(c))
	}
	return entries, nil
}

// ReadFile implements Client.
func (g *GitHub) ReadFile(ctx context.Context, repo, pth string) (Entry, []byte, error) {
	start := time.Now()
	file, dir, _, err := g.api.Repositories.GetContents(ctx, g.login, repo, pth, nil)
	metrics.ObserveRemoteCall("get_contents", start, err)
	if err != nil {
		return Entry{}, nil, g.wrapErr(err, repo, pth)
	}
	if dir != nil {
		return Entry{Name: path.Base(pth), Path: pth, Kind: KindDir}, nil, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return Entry{}, nil, err
	}
	return entryFromContent(file), []byte(content), nil
}

// CreateFile implements Client.
func (g *GitHub) CreateFile(ctx context.Context, repo, pth string, content []byte, message string) error {
	start := time.Now()
	_, _, err := g.api.Repositories.CreateFile(ctx, g.login, repo, pth, &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
	})
	metrics.ObserveRemoteCall("create_file", start, err)
	return g.wrapErr(err, repo, pth)
}

// UpdateFile implements Client.
func (g *GitHub) UpdateFile(ctx context.Context, repo, pth string, content []byte, sha, message string) error {
	start := time.Now()
	_, _, err := g.api.Repositories.UpdateFile(ctx, g.login, repo, pth, &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		SHA:     github.String(sha),
	})
	metrics.ObserveRemoteCall("update_file", start, err)
	return g.wrapErr(err, repo, pth)
}

// DeleteFile implements Client.
func (g *GitHub) DeleteFile(ctx context.Context, repo, pth, sha, message string) error {
	start := time.Now()
	_, _, err := g.api.Repositories.DeleteFile(ctx, g.login, repo, pth, &github.RepositoryContentFileOptions{
		Message: github.String(message),
		SHA:     github.String(sha),
	})
	metrics.ObserveRemoteCall("delete_file", start, err)
	return g.wrapErr(err, repo, pth)
}

// wrapErr converts go-github errors into the package's classification.
func (g *GitHub) wrapErr(err error, repo, pth string) error {
	if err == nil {
		return nil
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusNotFound:
			return &NotFoundError{
				Repo:      repo,
				Path:      pth,
				EmptyRepo: er.Message == emptyRepoMessage,
			}
		case http.StatusConflict, http.StatusUnprocessableEntity:
			// The contents API reports a stale or missing SHA
			// precondition as 409 or 422 depending on the operation.
			return &ConflictError{Repo: repo, Path: pth}
		}
	}
	return err
}

func entryFromContent(c *github.RepositoryContent) Entry {
	kind := KindFile
	if c.GetType() == "dir" {
		kind = KindDir
	}
	return Entry{
		Name: c.GetName(),
		Path: c.GetPath(),
		Kind: kind,
		Size: int64(c.GetSize()),
		SHA:  c.GetSHA(),
	}
}
