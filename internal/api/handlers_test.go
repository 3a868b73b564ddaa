package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"repodigest/internal/gitremote"
	"repodigest/internal/llm"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid url", &gitremote.Error{Code: gitremote.ErrInvalidURL}, http.StatusBadRequest},
		{"inaccessible", &gitremote.Error{Code: gitremote.ErrInaccessible}, http.StatusNotFound},
		{"rate limited", &gitremote.Error{Code: gitremote.ErrRateLimited}, http.StatusTooManyRequests},
		{"timeout", &gitremote.Error{Code: gitremote.ErrTimeout}, http.StatusGatewayTimeout},
		{"shape", &gitremote.Error{Code: gitremote.ErrResponseShape}, http.StatusBadGateway},
		{"upstream 500", &gitremote.Error{Code: gitremote.ErrUpstream, UpstreamStatus: 500}, http.StatusServiceUnavailable},
		{"upstream 429", &gitremote.Error{Code: gitremote.ErrUpstream, UpstreamStatus: 429}, http.StatusTooManyRequests},
		{"upstream 504", &gitremote.Error{Code: gitremote.ErrUpstream, UpstreamStatus: 504}, http.StatusGatewayTimeout},
		{"llm 429", &llm.APIError{Status: 429}, http.StatusTooManyRequests},
		{"llm 503", &llm.APIError{Status: 503}, http.StatusBadGateway},
		{"llm 504", &llm.APIError{Status: 504}, http.StatusGatewayTimeout},
		{"llm validation", &llm.ValidationError{Message: "bad output"}, http.StatusUnprocessableEntity},
		{"wrapped", fmt.Errorf("run failed: %w", &gitremote.Error{Code: gitremote.ErrInvalidURL}), http.StatusBadRequest},
		{"context canceled", context.Canceled, http.StatusInternalServerError},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, got)
		}
	}
}
