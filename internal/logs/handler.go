package logs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tdeslauriers/carapace/pkg/connect"
	"github.com/tdeslauriers/portfolio/internal/auth"
	"github.com/tdeslauriers/portfolio/internal/util"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// LogsResponse is the body of GET /admin/logs.
type LogsResponse struct {
	Count    int     `json:"count"`
	Buffered int     `json:"buffered"`
	Entries  []Entry `json:"entries"`
}

// Handler is the interface for the admin log endpoint.
type Handler interface {

	// HandleLogs handles GET (read, with ?level= and ?limit=) and DELETE (clear) on /admin/logs.
	HandleLogs(w http.ResponseWriter, r *http.Request)
}

// NewLogsHandler creates a new logs handler, returning a pointer to the concrete implementation.
func NewLogsHandler(buf *Buffer, g auth.Gate) Handler {
	return &logsHandler{
		buf:  buf,
		gate: g,

		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageLogs)).
			With(slog.String(util.ComponentKey, util.ComponentLogsHandler)),
	}
}

var _ Handler = (*logsHandler)(nil)

type logsHandler struct {
	buf  *Buffer
	gate auth.Gate

	logger *slog.Logger
}

// HandleLogs is the concrete implementation of the interface method.
func (h *logsHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {

	tel := connect.ObtainTelemetry(r, h.logger)
	log := h.logger.With(tel.TelemetryFields()...)

	if _, err := h.gate.VerifyAdmin(r); err != nil {
		log.Error("failed to verify admin", "err", err.Error())
		auth.RespondAuthFailure(err, w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getLogs(w, r, log)
		return
	case http.MethodDelete:
		h.buf.Clear()
		log.Info("cleared log buffer")
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		log.Error(fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path))
		e := connect.ErrorHttp{
			StatusCode: http.StatusMethodNotAllowed,
			Message:    fmt.Sprintf("unsupported method %s for endpoint %s", r.Method, r.URL.Path),
		}
		e.SendJsonErr(w)
		return
	}
}

func (h *logsHandler) getLogs(w http.ResponseWriter, r *http.Request, log *slog.Logger) {

	level := slog.LevelDebug
	if raw := r.URL.Query().Get("level"); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			e := connect.ErrorHttp{
				StatusCode: http.StatusBadRequest,
				Message:    "level must be one of debug, info, warn, error",
			}
			e.SendJsonErr(w)
			return
		}
	}

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			e := connect.ErrorHttp{
				StatusCode: http.StatusBadRequest,
				Message:    "limit must be a positive integer",
			}
			e.SendJsonErr(w)
			return
		}
		limit = min(n, maxLimit)
	}

	entries := h.buf.Recent(limit, level)
	resp := LogsResponse{
		Count:    len(entries),
		Buffered: h.buf.Len(),
		Entries:  entries,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("failed to encode logs response", "err", err.Error())
		return
	}
}
