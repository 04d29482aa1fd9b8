package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/mfa"
	"github.com/MrEthical07/goGuard/password"
)

const maxBodyBytes = 64 << 10

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Reasons []string `json:"reasons,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Error: msg, Code: code})
}

// decode reads a JSON body. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// fail maps engine errors to status codes. Messages of unexpected errors
// are logged, never returned.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rl     *goGuard.RateLimitError
		mfaReq *goGuard.MFARequiredError
		pe     *password.PolicyError
	)
	switch {
	case errors.As(err, &pe):
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: pe.Error(), Code: "password_policy", Reasons: pe.Reasons})
	case errors.As(err, &rl):
		if secs := int(rl.RetryAfter.Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, http.StatusTooManyRequests, "rate_limited", rl.Error())
	case errors.As(err, &mfaReq):
		writeJSON(w, http.StatusAccepted, mfaChallengeResponse{
			MFARequired: true,
			ChallengeID: mfaReq.ChallengeID,
			ExpiresAt:   mfaReq.ExpiresAt,
		})
	case errors.Is(err, goGuard.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, goGuard.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Unauthorized")
	case errors.Is(err, goGuard.ErrMFAChallengeInvalid), errors.Is(err, goGuard.ErrMFACodeInvalid):
		writeError(w, http.StatusUnauthorized, "mfa_invalid", err.Error())
	case errors.Is(err, goGuard.ErrMFARequired):
		writeError(w, http.StatusForbidden, "mfa_required", err.Error())
	case errors.Is(err, mfa.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid_code", err.Error())
	case errors.Is(err, mfa.ErrNotEnrolled):
		writeError(w, http.StatusConflict, "mfa_not_enrolled", err.Error())
	case errors.Is(err, goGuard.ErrAccountExists):
		writeError(w, http.StatusConflict, "account_exists", err.Error())
	case errors.Is(err, goGuard.ErrInvalidInput), errors.Is(err, backend.ErrUnsupported):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, goGuard.ErrEngineNotReady), errors.Is(err, goGuard.ErrUnavailable):
		s.logger.WarnContext(r.Context(), "goguard: request failed upstream",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", goGuard.ErrUnavailable.Error())
	default:
		s.logger.ErrorContext(r.Context(), "unhandled_error",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal", "Internal server error")
	}
}
