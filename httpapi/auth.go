package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/identity"
	"github.com/MrEthical07/goGuard/middleware"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type mfaChallengeResponse struct {
	MFARequired bool      `json:"mfaRequired"`
	ChallengeID string    `json:"challengeId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type mfaVerifyRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
	Recovery    bool   `json:"recovery"`
}

type signUpRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	BusinessName string `json:"businessName"`
	RedirectTo   string `json:"redirectTo"`
}

type signUpResponse struct {
	User    identity.User             `json:"user"`
	Session *identity.Session         `json:"session,omitempty"`
	Profile *identity.MerchantProfile `json:"profile,omitempty"`
}

func bearer(r *http.Request) string {
	token, _ := middleware.BearerToken(r.Header.Get("Authorization"))
	return token
}

func (s *Server) badJSON(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, "invalid_json", "Malformed request body")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decode(r, &req); err != nil {
		s.badJSON(w)
		return
	}
	sess, err := s.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if err := decode(r, &req); err != nil {
		s.badJSON(w)
		return
	}
	var (
		sess *identity.Session
		err  error
	)
	if req.Recovery {
		sess, err = s.engine.VerifyMFALoginRecovery(r.Context(), req.ChallengeID, req.Code)
	} else {
		sess, err = s.engine.VerifyMFALogin(r.Context(), req.ChallengeID, req.Code)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decode(r, &req); err != nil {
		s.badJSON(w)
		return
	}
	res, err := s.engine.SignUp(r.Context(), goGuard.SignUpRequest{
		Email:        req.Email,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		BusinessName: req.BusinessName,
		RedirectTo:   req.RedirectTo,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, signUpResponse{User: res.User, Session: res.Session, Profile: res.Profile})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decode(r, &req); err != nil {
		s.badJSON(w)
		return
	}
	sess, err := s.engine.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleOAuth returns the provider authorization URL rather than
// redirecting, so single-page clients can navigate themselves.
func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	url, err := s.engine.OAuthURL(chi.URLParam(r, "provider"), r.URL.Query().Get("redirect_to"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.LogoutToken(r.Context(), bearer(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		RedirectTo string `json:"redirectTo"`
	}
	if err := decode(r, &req); err != nil {
		s.badJSON(w)
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), req.Email, req.RedirectTo); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePasswordUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		s.badJSON(w)
		return
	}
	if err := s.engine.UpdatePassword(r.Context(), bearer(r), req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMFAStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.MFAStatus(r.Context(), bearer(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	setup, err := s.engine.SetupMFA(r.Context(), bearer(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

type recoveryCodesResponse struct {
	RecoveryCodes []string `json:"recoveryCodes"`
}

func (s *Server) handleMFAConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if err := decode(r, &req); err != nil {
		s.badJSON(w)
		return
	}
	codes, err := s.engine.ConfirmMFA(r.Context(), bearer(r), req.Secret, req.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

func (s *Server) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DisableMFA(r.Context(), bearer(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.engine.RegenerateRecoveryCodes(r.Context(), bearer(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}
