package gitremote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client talks to the GitHub REST API and the raw-content host. All
// transient failures are retried with fixed backoff; identity failures
// (unknown or inaccessible repository) are returned immediately.
type Client struct {
	gh             *github.Client
	httpClient     *http.Client
	log            *slog.Logger
	maxRetries     int
	backoffDelays  []time.Duration
	attemptTimeout time.Duration
}

// NewClient builds a client. An empty token selects unauthenticated access.
func NewClient(token string, log *slog.Logger) *Client {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	var gh *github.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		gh = github.NewClient(oauth2.NewClient(context.Background(), ts))
	} else {
		gh = github.NewClient(nil)
	}
	return &Client{
		gh:             gh,
		httpClient:     httpClient,
		log:            log,
		maxRetries:     2,
		backoffDelays:  []time.Duration{500 * time.Millisecond, time.Second},
		attemptTimeout: 10 * time.Second,
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// ParseRepoURL accepts only https://github.com/{owner}/{repo} root URLs.
func ParseRepoURL(raw string) (RepoRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RepoRef{}, &Error{Code: ErrInvalidURL, Message: "GitHub URL is required."}
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme != "https" || !strings.EqualFold(u.Host, "github.com") {
		return RepoRef{}, &Error{
			Code:    ErrInvalidURL,
			Message: "Only https://github.com/{owner}/{repo} URLs are supported.",
			Context: trimmed,
		}
	}
	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return RepoRef{}, &Error{Code: ErrInvalidURL, Message: "URL must include owner and repository.", Context: trimmed}
	}
	if len(parts) > 2 {
		return RepoRef{}, &Error{Code: ErrInvalidURL, Message: "Only repository root URLs are supported.", Context: trimmed}
	}
	return RepoRef{Owner: parts[0], Repo: parts[1]}, nil
}

// VerifyAccess fails fatally when the repository does not exist or is not
// publicly readable.
func (c *Client) VerifyAccess(ctx context.Context, ref RepoRef) error {
	var repo *github.Repository
	err := c.withRetry(ctx, "verify_repo_access:"+ref.String(), func(ctx context.Context) error {
		var err error
		repo, _, err = c.gh.Repositories.Get(ctx, ref.Owner, ref.Repo)
		return err
	})
	if err != nil {
		return err
	}
	if repo.GetPrivate() {
		return &Error{
			Code:           ErrInaccessible,
			Message:        "Repository is not publicly accessible.",
			UpstreamStatus: http.StatusForbidden,
			Context:        ref.String(),
		}
	}
	return nil
}

// Metadata fetches the identity-level repository record.
func (c *Client) Metadata(ctx context.Context, ref RepoRef) (RepoMetadata, error) {
	var repo *github.Repository
	err := c.withRetry(ctx, "get_repo_metadata:"+ref.String(), func(ctx context.Context) error {
		var err error
		repo, _, err = c.gh.Repositories.Get(ctx, ref.Owner, ref.Repo)
		return err
	})
	if err != nil {
		return RepoMetadata{}, err
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		return RepoMetadata{}, &Error{Code: ErrResponseShape, Message: "Metadata response missing default branch.", Context: ref.String()}
	}
	return RepoMetadata{
		Owner:         repo.GetOwner().GetLogin(),
		Repo:          repo.GetName(),
		DefaultBranch: branch,
		Description:   repo.GetDescription(),
		Topics:        repo.Topics,
		Homepage:      repo.GetHomepage(),
	}, nil
}

// Languages fetches the per-language byte histogram.
func (c *Client) Languages(ctx context.Context, ref RepoRef) (map[string]int, error) {
	var langs map[string]int
	err := c.withRetry(ctx, "get_languages:"+ref.String(), func(ctx context.Context) error {
		var err error
		langs, _, err = c.gh.Repositories.ListLanguages(ctx, ref.Owner, ref.Repo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return langs, nil
}

// Tree fetches the full recursive tree of the given branch and returns it in
// breadth-first order.
func (c *Client) Tree(ctx context.Context, ref RepoRef, branch string) ([]TreeEntry, error) {
	var tree *github.Tree
	err := c.withRetry(ctx, "get_tree:"+ref.String(), func(ctx context.Context) error {
		var err error
		tree, _, err = c.gh.Git.GetTree(ctx, ref.Owner, ref.Repo, branch, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, item := range tree.Entries {
		path := item.GetPath()
		kind := item.GetType()
		if path == "" || (kind != "blob" && kind != "tree") {
			continue
		}
		e := TreeEntry{Path: path, Type: kind, Size: item.GetSize()}
		if kind == "blob" {
			e.DownloadURL = fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s",
				ref.Owner, ref.Repo, branch, path)
		}
		entries = append(entries, e)
	}
	return SortBFS(entries), nil
}

// Readme fetches the primary readme. A repository without one yields
// (nil, nil).
func (c *Client) Readme(ctx context.Context, ref RepoRef) (*FileContent, error) {
	var content *github.RepositoryContent
	err := c.withRetry(ctx, "get_readme:"+ref.String(), func(ctx context.Context) error {
		var err error
		content, _, err = c.gh.Repositories.GetReadme(ctx, ref.Owner, ref.Repo, nil)
		return err
	})
	if err != nil {
		var gerr *Error
		if errors.As(err, &gerr) && gerr.UpstreamStatus == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	text, err := content.GetContent()
	if err != nil {
		return nil, &Error{Code: ErrResponseShape, Message: "Unable to decode README payload.", Context: err.Error()}
	}
	src := content.GetHTMLURL()
	if src == "" {
		src = content.GetDownloadURL()
	}
	return &FileContent{Path: "README", SourceURL: src, Content: text, Bytes: len(text)}, nil
}

// DownloadFile fetches one raw file and validates it as UTF-8 text.
func (c *Client) DownloadFile(ctx context.Context, path, downloadURL string) (FileContent, error) {
	body, err := c.getBytes(ctx, "download:"+path, downloadURL)
	if err != nil {
		return FileContent{}, err
	}
	text, err := decodeText(body, path)
	if err != nil {
		return FileContent{}, err
	}
	return FileContent{Path: path, SourceURL: downloadURL, Content: text, Bytes: len(text)}, nil
}

func decodeText(body []byte, context string) (string, error) {
	for _, b := range body {
		if b == 0 {
			return "", &Error{Code: ErrResponseShape, Message: "Likely binary content.", Context: context}
		}
	}
	if !utf8.Valid(body) {
		return "", &Error{Code: ErrResponseShape, Message: "Unable to decode content as UTF-8.", Context: context}
	}
	return string(body), nil
}

func (c *Client) getBytes(ctx context.Context, scope, rawURL string) ([]byte, error) {
	var body []byte
	err := c.withRetry(ctx, scope, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return &Error{Code: ErrInvalidURL, Message: "Invalid download URL.", Context: rawURL}
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return &Error{
				Code:           ErrUpstream,
				Message:        fmt.Sprintf("Unexpected status fetching %s.", rawURL),
				UpstreamStatus: resp.StatusCode,
				Context:        scope,
			}
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	})
	return body, err
}

// withRetry runs op up to maxRetries+1 times with fixed backoff plus jitter.
// Fatal and non-retryable errors return immediately.
func (c *Client) withRetry(ctx context.Context, scope string, op func(ctx context.Context) error) error {
	attempts := c.maxRetries + 1
	var last *Error
	for attempt := 0; attempt < attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		classified := classify(err, scope)
		if classified.Fatal() || !classified.Retryable() {
			return classified
		}
		last = classified
		if attempt == attempts-1 {
			break
		}
		c.log.Warn("retrying github request", "scope", scope, "attempt", attempt+1, "error", classified.Error())
		select {
		case <-ctx.Done():
			return &Error{Code: ErrTimeout, Message: "Fetch deadline reached.", UpstreamStatus: 504, Context: scope}
		case <-time.After(c.backoff(attempt)):
		}
	}
	return last
}

func (c *Client) backoff(attempt int) time.Duration {
	idx := attempt
	if idx >= len(c.backoffDelays) {
		idx = len(c.backoffDelays) - 1
	}
	jitter := time.Duration(rand.Int64N(int64(150 * time.Millisecond)))
	return c.backoffDelays[idx] + jitter
}

// classify maps an arbitrary failure into this package's error taxonomy.
func classify(err error, scope string) *Error {
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	var rate *github.RateLimitError
	if errors.As(err, &rate) {
		return &Error{Code: ErrRateLimited, Message: "GitHub rate limit reached.", UpstreamStatus: 403, Context: scope}
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return &Error{Code: ErrRateLimited, Message: "GitHub secondary rate limit reached.", UpstreamStatus: 403, Context: scope}
	}

	var ger *github.ErrorResponse
	if errors.As(err, &ger) {
		status := 0
		if ger.Response != nil {
			status = ger.Response.StatusCode
		}
		switch {
		case status == http.StatusNotFound:
			return &Error{Code: ErrInaccessible, Message: "Repository is not accessible.", UpstreamStatus: status, Context: scope}
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &Error{Code: ErrInaccessible, Message: "Repository is not accessible in this mode.", UpstreamStatus: status, Context: scope}
		case status == http.StatusTooManyRequests:
			return &Error{Code: ErrRateLimited, Message: "GitHub rate limit reached.", UpstreamStatus: status, Context: scope}
		case status >= 500:
			return &Error{Code: ErrUpstream, Message: "Retryable GitHub upstream failure.", UpstreamStatus: status, Context: scope}
		default:
			return &Error{Code: ErrUpstream, Message: "Non-retryable GitHub failure.", UpstreamStatus: status, Context: scope}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: ErrTimeout, Message: "GitHub request timed out.", UpstreamStatus: 504, Context: scope}
	}
	// Transport-level failure: retryable with no upstream status.
	return &Error{Code: ErrUpstream, Message: "Network failure while talking to GitHub.", Context: scope + ": " + err.Error()}
}
