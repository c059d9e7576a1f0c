package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/groomery/salonremind/services/reminder-service/internal/reply"
)

type InboundLog interface {
	Record(ctx context.Context, providerSID, fromPhone, body string) (bool, error)
}

// WebhookHandler receives inbound SMS from the transport. It always answers
// 200: the provider retries any other status, and a logic error must not turn
// into a redelivery storm. The customer-facing outcome rides in the body.
type WebhookHandler struct {
	interpreter *reply.Interpreter
	inbound     InboundLog
	logger      *slog.Logger
}

func NewWebhookHandler(interpreter *reply.Interpreter, inbound InboundLog, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{interpreter: interpreter, inbound: inbound, logger: logger}
}

func (h *WebhookHandler) InboundSMS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.respond(w, "ok")
		return
	}

	from := strings.TrimSpace(r.PostFormValue("From"))
	body := r.PostFormValue("Body")
	sid := strings.TrimSpace(r.PostFormValue("MessageSid"))

	if from == "" {
		h.respond(w, "ok")
		return
	}

	ctx := r.Context()
	if sid != "" && h.inbound != nil {
		fresh, err := h.inbound.Record(ctx, sid, from, body)
		if err != nil {
			h.logger.Error("inbound dedup record failed", "err", err)
			// Fall through: better a rare duplicate reply than silence.
		} else if !fresh {
			h.logger.Info("duplicate inbound delivery ignored", "sid", sid)
			h.respond(w, "ok")
			return
		}
	}

	res := h.interpreter.Handle(ctx, from, body)
	h.logger.Info("inbound sms handled", "outcome", res.Outcome)
	h.respond(w, res.Body)
}

func (h *WebhookHandler) respond(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
