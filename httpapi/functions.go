package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/middleware"
	"github.com/MrEthical07/goGuard/permission"
)

type checkPermissionRequest struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

func (s *Server) handleCheckPermission(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeJSON(w, http.StatusUnauthorized, permission.CheckResponse{Error: "Unauthorized"})
		return
	}
	var req checkPermissionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Malformed request body")
		return
	}

	d, err := s.engine.CheckPermission(r.Context(), token, req.Resource, req.Action)
	if err != nil {
		if errors.Is(err, goGuard.ErrUnauthenticated) {
			writeJSON(w, http.StatusUnauthorized, permission.CheckResponse{Error: "Unauthorized"})
			return
		}
		s.fail(w, r, err)
		return
	}
	roles := make([]string, len(d.Roles))
	for i, role := range d.Roles {
		roles[i] = string(role)
	}
	writeJSON(w, http.StatusOK, permission.CheckResponse{
		HasPermission: d.Granted,
		Roles:         roles,
		Timestamp:     time.Now().UTC(),
	})
}

type rateLimitRequest struct {
	Identifier    string `json:"identifier"`
	Action        string `json:"action"`
	MaxAttempts   int    `json:"maxAttempts"`
	WindowSeconds int    `json:"windowSeconds"`
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	var req rateLimitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Malformed request body")
		return
	}
	if req.Identifier == "" || req.Action == "" || req.MaxAttempts <= 0 || req.WindowSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "missing_parameters",
			"identifier, action, maxAttempts and windowSeconds are required")
		return
	}
	res, err := s.engine.RateLimit(r.Context(), req.Identifier, req.Action, req.MaxAttempts,
		time.Duration(req.WindowSeconds)*time.Second)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type cleanupRequest struct {
	RetentionHours float64 `json:"retentionHours"`
}

type cleanupResponse struct {
	Deleted int64 `json:"deleted"`
}

func (s *Server) handleCleanupRateLimits(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Malformed request body")
		return
	}
	if req.RetentionHours < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "retentionHours must not be negative")
		return
	}
	n, err := s.engine.CleanupRateLimits(r.Context(), time.Duration(req.RetentionHours*float64(time.Hour)))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Deleted: n})
}

func (s *Server) handleAlertMonitor(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.RunAlertMonitor(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.admin != "" {
			token, ok := middleware.BearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.admin)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "Unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
