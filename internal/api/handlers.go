package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"totpgate/internal/auth"
	"totpgate/internal/token"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Authenticator is the login flow the handlers expose.
type Authenticator interface {
	Enroll(ctx context.Context, email, password string) (*auth.Enrollment, error)
	Login(ctx context.Context, identifier, password string) (*auth.LoginResult, error)
	Verify(ctx context.Context, challengeRef, code string) (*auth.Session, error)
	Authenticate(tokenString string) (*token.Claims, error)
}

type claimsKey struct{}

// Handler serves the REST endpoints of the login flow.
type Handler struct {
	auth Authenticator
	log  *zap.Logger
}

// NewHandler returns a Handler backed by a.
func NewHandler(a Authenticator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{auth: a, log: log}
}

// Router registers every endpoint on a new gorilla/mux router.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/register", h.register).Methods(http.MethodPost)
	api.HandleFunc("/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/verify-otp", h.verifyOTP).Methods(http.MethodPost)
	api.Handle("/me", h.requireSession(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	return router
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=8,max=1024"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if !validateRequest(w, &req) {
		return
	}

	enrollment, err := h.auth.Enroll(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, auth.ErrAccountExists):
		writeJSONError(w, http.StatusConflict, "Registration failed")
		return
	case err != nil:
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"account_id": enrollment.AccountID,
		"email":      enrollment.Email,
		"otp_secret": enrollment.Secret,
		"otp_url":    enrollment.URL,
		"qr_png":     base64.StdEncoding.EncodeToString(enrollment.QRCodePNG),
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier" validate:"required,max=254"`
		Password   string `json:"password" validate:"required,max=1024"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if !validateRequest(w, &req) {
		return
	}

	res, err := h.auth.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"otp_required":  true,
		"challenge_ref": res.ChallengeRef,
		"expires_at":    res.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeRef string `json:"challenge_ref" validate:"required,max=64"`
		Code         string `json:"code" validate:"required,number,len=6"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if !validateRequest(w, &req) {
		return
	}

	session, err := h.auth.Verify(r.Context(), req.ChallengeRef, req.Code)
	if err != nil {
		if isVerificationFailure(err) {
			writeJSONError(w, http.StatusUnauthorized, "verification failed")
			return
		}
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_token": session.Token,
		"token_type":    "Bearer",
		"expires_at":    session.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(claimsKey{}).(*token.Claims)
	writeJSON(w, http.StatusOK, map[string]string{
		"account_id": claims.Subject,
		"email":      claims.Email,
		"expires_at": claims.ExpiresAt.Time.UTC().Format(time.RFC3339),
	})
}

// requireSession admits requests carrying a valid bearer session token.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, value, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="totpgate"`)
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.auth.Authenticate(strings.TrimSpace(value))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="totpgate", error="invalid_token"`)
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}

func isVerificationFailure(err error) bool {
	return errors.Is(err, auth.ErrInvalidOTP) ||
		errors.Is(err, auth.ErrChallengeExpired) ||
		errors.Is(err, auth.ErrChallengeAlreadyConsumed) ||
		errors.Is(err, auth.ErrInvalidCredentials)
}
