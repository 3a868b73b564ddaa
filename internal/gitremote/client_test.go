package gitremote

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-github/v57/github"
)

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		in        string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{"https://github.com/octo/widget", "octo", "widget", false},
		{"https://github.com/octo/widget/", "octo", "widget", false},
		{" https://github.com/octo/widget ", "octo", "widget", false},
		{"https://GitHub.com/octo/widget", "octo", "widget", false},
		{"", "", "", true},
		{"http://github.com/octo/widget", "", "", true},
		{"https://gitlab.com/octo/widget", "", "", true},
		{"https://github.com/octo", "", "", true},
		{"https://github.com/octo/widget/tree/main", "", "", true},
		{"not a url", "", "", true},
	}
	for _, c := range cases {
		ref, err := ParseRepoURL(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseRepoURL(%q): expected error, got %v", c.in, ref)
				continue
			}
			var gerr *Error
			if !errors.As(err, &gerr) || gerr.Code != ErrInvalidURL {
				t.Errorf("ParseRepoURL(%q): expected invalid URL code, got %v", c.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRepoURL(%q): unexpected error %v", c.in, err)
			continue
		}
		if ref.Owner != c.wantOwner || ref.Repo != c.wantRepo {
			t.Errorf("ParseRepoURL(%q): expected %s/%s, got %s", c.in, c.wantOwner, c.wantRepo, ref)
		}
	}
}

func ghError(status int) *github.ErrorResponse {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: status, Request: &http.Request{}},
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCode  ErrorCode
		retryable bool
		fatal     bool
	}{
		{"not found", ghError(404), ErrInaccessible, false, true},
		{"forbidden", ghError(403), ErrInaccessible, false, true},
		{"unauthorized", ghError(401), ErrInaccessible, false, true},
		{"too many requests", ghError(429), ErrRateLimited, true, false},
		{"server error", ghError(502), ErrUpstream, true, false},
		{"unexpected client error", ghError(418), ErrUpstream, false, false},
		{"deadline", context.DeadlineExceeded, ErrTimeout, true, false},
		{"rate limit", &github.RateLimitError{}, ErrRateLimited, true, false},
		{"network", errors.New("connection refused"), ErrUpstream, true, false},
	}
	for _, c := range cases {
		got := classify(c.err, "test")
		if got.Code != c.wantCode {
			t.Errorf("%s: expected code %s, got %s", c.name, c.wantCode, got.Code)
		}
		if got.Retryable() != c.retryable {
			t.Errorf("%s: expected retryable=%v", c.name, c.retryable)
		}
		if got.Fatal() != c.fatal {
			t.Errorf("%s: expected fatal=%v", c.name, c.fatal)
		}
	}
}

func TestClassify_PassthroughTypedError(t *testing.T) {
	orig := &Error{Code: ErrResponseShape, Message: "bad body"}
	if got := classify(orig, "test"); got != orig {
		t.Errorf("typed errors must pass through unchanged, got %v", got)
	}
}

func TestDecodeText(t *testing.T) {
	text, err := decodeText([]byte("hello"), "f")
	if err != nil || text != "hello" {
		t.Fatalf("expected plain text through, got %q err=%v", text, err)
	}

	_, err = decodeText([]byte{0x00, 0x01, 0x02}, "f")
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.Code != ErrResponseShape {
		t.Errorf("NUL content must classify as a shape error, got %v", err)
	}

	_, err = decodeText([]byte{0xff, 0xfe, 0x41}, "f")
	if err == nil {
		t.Error("invalid UTF-8 must be rejected")
	}
}
