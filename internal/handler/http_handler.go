package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-ap-threeway/internal/auth"
	"github.com/pesio-ai/be-ap-threeway/internal/errors"
	"github.com/pesio-ai/be-ap-threeway/internal/logger"
	"github.com/pesio-ai/be-ap-threeway/internal/repository"
	"github.com/pesio-ai/be-ap-threeway/internal/service"
)

const maxBodyBytes = 1 << 20

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.ClaimService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service *service.ClaimService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// RegisterRoutes mounts the claim routes and the health check on mux
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)

	mux.HandleFunc("/api/v1/claims", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListClaims(w, r)
		case http.MethodPost:
			h.SubmitClaim(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/claims/get", h.GetClaim)
	mux.HandleFunc("/api/v1/claims/edit", h.EditClaim)
	mux.HandleFunc("/api/v1/claims/preview", h.PreviewMatching)
	mux.HandleFunc("/api/v1/claims/keys", h.DistinctKeys)
}

// Health reports liveness
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// SubmitClaim handles new claim submissions
func (h *HTTPHandler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}

	claim, err := h.service.SubmitClaim(r.Context(), auth.FromContext(r.Context()), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, claim)
}

// EditClaim saves a new version of an existing claim
func (h *HTTPHandler) EditClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}

	claim, err := h.service.EditClaim(r.Context(), auth.FromContext(r.Context()), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// PreviewMatching returns derived amounts and the matching result without saving
func (h *HTTPHandler) PreviewMatching(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req service.ClaimRequest
	if !h.decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, h.service.PreviewMatching(r.Context(), &req))
}

// GetClaim returns the latest version of a claim
func (h *HTTPHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claim, err := h.service.GetClaim(r.Context(), auth.FromContext(r.Context()), r.URL.Query().Get("claim_number"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, claim)
}

// ListClaims lists claims newest first. Verifiers get private claims too
// unless they pass all=false; all=true from the public is refused.
func (h *HTTPHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session := auth.FromContext(r.Context())
	includePrivate := session.IsPrivileged()
	if v := r.URL.Query().Get("all"); v != "" {
		all, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, errors.InvalidInput("all", "must be true or false"))
			return
		}
		includePrivate = all
	}

	claims, err := h.service.ListClaims(r.Context(), session, service.ListRequest{
		IncludePrivate: includePrivate,
		Query:          r.URL.Query().Get("q"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if claims == nil {
		claims = []*repository.Claim{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"claims": claims,
		"total":  len(claims),
	})
}

// DistinctKeys lists every known claim number
func (h *HTTPHandler) DistinctKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	keys, err := h.service.DistinctKeys(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"claim_numbers": keys})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body: "+err.Error()))
		return false
	}
	return true
}

type errorResponse struct {
	Error string      `json:"error"`
	Code  errors.Code `json:"code"`
	Field string      `json:"field,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	resp := errorResponse{Error: err.Error(), Code: code}

	var appErr *errors.Error
	if errors.As(err, &appErr) {
		resp.Field = appErr.Field
	}

	if code == errors.ErrCodeInternal {
		h.log.Error().Err(err).Msg("Request failed")
		resp.Error = "internal server error"
	}

	writeJSON(w, httpStatus(code), resp)
}

func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
