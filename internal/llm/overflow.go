package llm

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
)

// ContextOverflow carries the provider-reported context ceiling and the
// observed input size, parsed from a 400 rejection body.
type ContextOverflow struct {
	MaxTokens      int
	ObservedTokens int
}

var overflowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)maximum context length is\s+(\d+)\s+tokens.*?request has\s+(\d+)\s+input tokens`),
	regexp.MustCompile(`(?is)maximum context length is\s+(\d+).*?your request has\s+(\d+)`),
}

// ParseContextOverflow reports whether err is a context-window rejection and
// extracts the token figures. Only 400 responses are considered; anything
// else, including 400s with an unrecognized body, returns false.
func ParseContextOverflow(err error) (ContextOverflow, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		return ContextOverflow{}, false
	}
	for _, re := range overflowPatterns {
		m := re.FindStringSubmatch(apiErr.Body)
		if len(m) != 3 {
			continue
		}
		max, err1 := strconv.Atoi(m[1])
		observed, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || max <= 0 || observed <= 0 {
			continue
		}
		return ContextOverflow{MaxTokens: max, ObservedTokens: observed}, true
	}
	return ContextOverflow{}, false
}
