package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tdeslauriers/carapace/pkg/connect"
	"github.com/tdeslauriers/portfolio/internal/util"
	"github.com/tdeslauriers/portfolio/pkg/api"
)

// Handler is the interface for the admin session endpoint.
type Handler interface {

	// HandleAuth handles POST (login), GET (status) and DELETE (logout) on /admin/auth.
	HandleAuth(w http.ResponseWriter, r *http.Request)
}

// NewHandler creates a new auth handler, returning a pointer to the concrete implementation.
func NewHandler(g Gate, i Issuer, secureCookie bool) Handler {
	return &handler{
		gate:   g,
		issuer: i,
		secure: secureCookie,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageAuth)).
			With(slog.String(util.ComponentKey, util.ComponentAuthHandler)),
	}
}

var _ Handler = (*handler)(nil)

type handler struct {
	gate   Gate
	issuer Issuer
	secure bool

	logger *slog.Logger
}

// HandleAuth is the concrete implementation of the interface method.
func (h *handler) HandleAuth(w http.ResponseWriter, r *http.Request) {

	switch r.Method {
	case http.MethodPost:
		h.login(w, r)
		return
	case http.MethodGet:
		h.status(w, r)
		return
	case http.MethodDelete:
		h.logout(w, r)
		return
	default:
		tel := connect.ObtainTelemetry(r, h.logger)
		log := h.logger.With(tel.TelemetryFields()...)

		log.Error(fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path))
		e := connect.ErrorHttp{
			StatusCode: http.StatusMethodNotAllowed,
			Message:    fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path),
		}
		e.SendJsonErr(w)
		return
	}
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	var cmd api.LoginCmd
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&cmd); err != nil {
		log.Error("failed to decode login request body", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusBadRequest,
			Message:    "failed to decode request body",
		}
		e.SendJsonErr(w)
		return
	}

	if err := cmd.Validate(); err != nil {
		log.Error("invalid login request", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusBadRequest,
			Message:    err.Error(),
		}
		e.SendJsonErr(w)
		return
	}

	token, expires, err := h.issuer.Login(cmd.Username, cmd.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			log.Warn("failed admin login", "username", cmd.Username)
			RespondAuthFailure(ErrUnauthenticated, w)
			return
		}
		log.Error("failed to issue admin token", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusInternalServerError,
			Message:    "failed to log in",
		}
		e.SendJsonErr(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     util.AdminCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})

	log.Info(fmt.Sprintf("admin %s logged in", cmd.Username))

	h.writeStatus(w, api.AuthStatus{Authenticated: true, Username: cmd.Username, Role: RoleAdmin}, log)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	identity, err := h.gate.VerifyAdmin(r)
	if err != nil {
		h.writeStatus(w, api.AuthStatus{Authenticated: false}, log)
		return
	}

	h.writeStatus(w, api.AuthStatus{Authenticated: true, Username: identity.Username, Role: identity.Role}, log)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	http.SetCookie(w, &http.Cookie{
		Name:     util.AdminCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
	})

	log.Info("admin session cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) writeStatus(w http.ResponseWriter, status api.AuthStatus, log *slog.Logger) {

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error("failed to encode auth status", "err", err.Error())
		e := connect.ErrorHttp{
			StatusCode: http.StatusInternalServerError,
			Message:    "failed to encode auth status",
		}
		e.SendJsonErr(w)
		return
	}
}
