package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/groomery/salonremind/libs/config"
	"github.com/groomery/salonremind/libs/db"
	"github.com/groomery/salonremind/libs/httpx"
	"github.com/groomery/salonremind/libs/kafkax"
	otelx "github.com/groomery/salonremind/libs/otel"
	"github.com/groomery/salonremind/libs/runtime"
	"github.com/groomery/salonremind/services/analytics-service/internal/consumer"
	"github.com/groomery/salonremind/services/analytics-service/internal/inbox"
)

type reminderEvent struct {
	AppointmentID string `json:"appointment_id"`
	CustomerID    string `json:"customer_id"`
	ScheduledAt   string `json:"scheduled_at"`
	Provider      string `json:"provider"`
	SentAt        string `json:"sent_at"`
}

type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	CustomerID    string `json:"customer_id"`
	ScheduledAt   string `json:"scheduled_at"`
	Response      string `json:"response"`
	RespondedAt   string `json:"responded_at"`
}

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "analytics-service")

	recordReminder := func(status string) consumer.Handler {
		return func(ctx context.Context, msg kafka.Message) error {
			var payload reminderEvent
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid reminder payload", "err", err)
				return nil
			}
			if payload.AppointmentID == "" || payload.SentAt == "" {
				logger.Error("missing reminder fields")
				return nil
			}
			sentAt, err := time.Parse(time.RFC3339, payload.SentAt)
			if err != nil {
				logger.Error("invalid sent_at", "err", err)
				return nil
			}

			tx, err := pool.Begin(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback(ctx) }()

			if _, err := tx.Exec(ctx, `
				INSERT INTO message_log (appointment_id, customer_id, provider, status, occurred_at)
				VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5)
			`, payload.AppointmentID, payload.CustomerID, payload.Provider, status, sentAt.UTC()); err != nil {
				return err
			}

			sentInc, failedInc := 1, 0
			if status == "failed" {
				sentInc, failedInc = 0, 1
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO daily_reminder_metrics (day, sent_count, failed_count)
				VALUES ($1::date, $2, $3)
				ON CONFLICT (day)
				DO UPDATE SET sent_count = daily_reminder_metrics.sent_count + EXCLUDED.sent_count,
				              failed_count = daily_reminder_metrics.failed_count + EXCLUDED.failed_count,
				              updated_at = now()
			`, sentAt.UTC(), sentInc, failedInc); err != nil {
				return err
			}

			if err := tx.Commit(ctx); err != nil {
				return err
			}
			logger.Info("reminder metric recorded", "appointment_id", payload.AppointmentID, "status", status)
			return nil
		}
	}

	recordResponse := func(kind string) consumer.Handler {
		return func(ctx context.Context, msg kafka.Message) error {
			var payload appointmentEvent
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid appointment payload", "err", err)
				return nil
			}
			if payload.AppointmentID == "" || payload.RespondedAt == "" {
				logger.Error("missing appointment fields")
				return nil
			}
			respondedAt, err := time.Parse(time.RFC3339, payload.RespondedAt)
			if err != nil {
				logger.Error("invalid responded_at", "err", err)
				return nil
			}

			tx, err := pool.Begin(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback(ctx) }()

			if _, err := tx.Exec(ctx, `
				INSERT INTO response_log (appointment_id, customer_id, response, outcome, occurred_at)
				VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5)
			`, payload.AppointmentID, payload.CustomerID, payload.Response, kind, respondedAt.UTC()); err != nil {
				return err
			}

			confirmedInc, cancelledInc := 0, 0
			if kind == "confirmed" {
				confirmedInc = 1
			} else {
				cancelledInc = 1
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO daily_response_metrics (day, confirmed_count, cancelled_count)
				VALUES ($1::date, $2, $3)
				ON CONFLICT (day)
				DO UPDATE SET confirmed_count = daily_response_metrics.confirmed_count + EXCLUDED.confirmed_count,
				              cancelled_count = daily_response_metrics.cancelled_count + EXCLUDED.cancelled_count,
				              updated_at = now()
			`, respondedAt.UTC(), confirmedInc, cancelledInc); err != nil {
				return err
			}

			if err := tx.Commit(ctx); err != nil {
				return err
			}
			logger.Info("response metric recorded", "appointment_id", payload.AppointmentID, "outcome", kind)
			return nil
		}
	}

	for topic, handler := range map[string]consumer.Handler{
		"reminder.sent.v1":         recordReminder("sent"),
		"reminder.failed.v1":       recordReminder("failed"),
		"appointment.confirmed.v1": recordResponse("confirmed"),
		"appointment.cancelled.v1": recordResponse("cancelled"),
	} {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go c.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
