package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"repodigest/internal/gitremote"
	"repodigest/internal/llm"
	"repodigest/internal/service"
)

type summarizeRequest struct {
	GitHubURL string `json:"github_url"`
	Include   *struct {
		Documentation *bool `json:"documentation"`
		BuildPackage  *bool `json:"build_package"`
		Tests         *bool `json:"tests"`
		Code          *bool `json:"code"`
	} `json:"include"`
}

// decodeRequest parses the shared request shape for summarize and extract.
func decodeRequest(w http.ResponseWriter, r *http.Request) (service.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return service.Request{}, false
	}
	if req.GitHubURL == "" {
		jsonError(w, "github_url is required", http.StatusBadRequest)
		return service.Request{}, false
	}

	include := service.DefaultInclude()
	if req.Include != nil {
		if req.Include.Documentation != nil {
			include.Documentation = *req.Include.Documentation
		}
		if req.Include.BuildPackage != nil {
			include.BuildPackage = *req.Include.BuildPackage
		}
		if req.Include.Tests != nil {
			include.Tests = *req.Include.Tests
		}
		if req.Include.Code != nil {
			include.Code = *req.Include.Code
		}
	}
	return service.Request{GitHubURL: req.GitHubURL, Include: include}, true
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := s.svc.Summarize(r.Context(), req)
	if err != nil {
		s.log.Error("summarize failed", "url", req.GitHubURL, "error", err.Error())
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	resp, err := s.svc.Extract(r.Context(), req)
	if err != nil {
		s.log.Error("extract failed", "url", req.GitHubURL, "error", err.Error())
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// statusFor maps pipeline failures to HTTP statuses: identity errors are
// client errors, transient upstream conditions pass their class through, and
// a model output that fails validation is unprocessable.
func statusFor(err error) int {
	var gerr *gitremote.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case gitremote.ErrInvalidURL:
			return http.StatusBadRequest
		case gitremote.ErrInaccessible:
			return http.StatusNotFound
		case gitremote.ErrRateLimited:
			return http.StatusTooManyRequests
		case gitremote.ErrTimeout:
			return http.StatusGatewayTimeout
		case gitremote.ErrResponseShape:
			return http.StatusBadGateway
		case gitremote.ErrUpstream:
			switch gerr.UpstreamStatus {
			case http.StatusTooManyRequests:
				return http.StatusTooManyRequests
			case http.StatusGatewayTimeout:
				return http.StatusGatewayTimeout
			}
			return http.StatusServiceUnavailable
		}
		return http.StatusServiceUnavailable
	}

	var aerr *llm.APIError
	if errors.As(err, &aerr) {
		switch aerr.Status {
		case http.StatusTooManyRequests:
			return http.StatusTooManyRequests
		case http.StatusGatewayTimeout:
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}

	var verr *llm.ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity
	}

	return http.StatusInternalServerError
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
