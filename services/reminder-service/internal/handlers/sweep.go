package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/groomery/salonremind/services/reminder-service/internal/sweep"
)

// SweepHandler is the cron-facing trigger. The caller authenticates with a
// shared bearer secret; an empty secret (local development) disables the check.
type SweepHandler struct {
	sweeper *sweep.Sweeper
	secret  string
	logger  *slog.Logger
	now     func() time.Time
}

func NewSweepHandler(sweeper *sweep.Sweeper, secret string, logger *slog.Logger) *SweepHandler {
	return &SweepHandler{
		sweeper: sweeper,
		secret:  strings.TrimSpace(secret),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (h *SweepHandler) WithClock(now func() time.Time) *SweepHandler {
	h.now = now
	return h
}

func (h *SweepHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.secret != "" && !h.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	res, err := h.sweeper.Sweep(r.Context(), h.now())
	if err != nil {
		h.logger.Error("sweep failed", "err", err)
		http.Error(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SweepHandler) authorized(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
