package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/groomery/salonremind/libs/config"
	"github.com/groomery/salonremind/libs/db"
	"github.com/groomery/salonremind/libs/httpx"
	"github.com/groomery/salonremind/libs/kafkax"
	"github.com/groomery/salonremind/libs/metrics"
	otelx "github.com/groomery/salonremind/libs/otel"
	"github.com/groomery/salonremind/libs/runtime"
	"github.com/groomery/salonremind/services/reminder-service/internal/handlers"
	"github.com/groomery/salonremind/services/reminder-service/internal/messages"
	"github.com/groomery/salonremind/services/reminder-service/internal/outbox"
	"github.com/groomery/salonremind/services/reminder-service/internal/reply"
	"github.com/groomery/salonremind/services/reminder-service/internal/sms"
	"github.com/groomery/salonremind/services/reminder-service/internal/storage"
	"github.com/groomery/salonremind/services/reminder-service/internal/sweep"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "reminder-service")
	port, err := config.Port("PORT", "8080")
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

	cronSecret := config.String("CRON_SECRET", "")
	appEnv := strings.ToLower(config.String("APP_ENV", "development"))
	if cronSecret == "" && appEnv != "development" {
		panic("CRON_SECRET is required outside development")
	}

	loc := time.UTC
	if tz := config.String("SALON_TIMEZONE", ""); tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			loc = parsed
		} else {
			logger.Warn("invalid SALON_TIMEZONE, using UTC", "tz", tz)
		}
	}
	msgs := messages.NewBuilder(
		config.String("SALON_NAME", "Groomery"),
		config.String("SALON_CALLBACK_PHONE", "+15550100000"),
		loc,
	)

	var sender sms.Sender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "twilio":
		sender = sms.NewTwilioSender(
			config.String("TWILIO_ACCOUNT_SID", ""),
			config.String("TWILIO_AUTH_TOKEN", ""),
			config.String("TWILIO_FROM_NUMBER", ""),
			config.String("TWILIO_BASE_URL", ""),
		)
	case "webhook":
		sender = sms.NewWebhookSender(
			config.String("SMS_WEBHOOK_URL", ""),
			config.String("SMS_WEBHOOK_TOKEN", ""),
		)
	default:
		sender = sms.NewNoopSender()
	}
	logger.Info("sms provider configured", "provider", sender.ProviderID())

	apptRepo := storage.NewAppointmentRepository(pool)
	customerRepo := storage.NewCustomerRepository(pool)
	reminderRepo := storage.NewReminderRepository(pool)
	inboundRepo := storage.NewInboundRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	reminderMetrics := metrics.NewReminder("salonremind")

	sweeper := sweep.NewSweeper(
		apptRepo,
		customerRepo,
		reminderRepo,
		sender,
		msgs,
		outboxRepo,
		logger,
		reminderMetrics,
		sweep.Config{
			LeadMin: config.Minutes("REMINDER_LEAD_MIN_MINUTES", 45),
			LeadMax: config.Minutes("REMINDER_LEAD_MAX_MINUTES", 75),
		},
	)

	// External cron is the production trigger; the internal ticker covers
	// deployments without one. Running both is harmless, dedup holds.
	if config.Bool("SWEEP_WORKER_ENABLED", true) {
		worker := sweep.NewWorker(sweeper, logger, config.Minutes("SWEEP_INTERVAL_MINUTES", 15))
		go worker.Run(ctx)
	}

	interpreter := reply.NewInterpreter(customerRepo, apptRepo, reminderRepo, outboxRepo, msgs, logger, reminderMetrics)

	apptHandler := handlers.NewAppointmentHandler(apptRepo, customerRepo, reminderRepo, sender, msgs.Reminder, logger)
	sweepHandler := handlers.NewSweepHandler(sweeper, cronSecret, logger)
	webhookHandler := handlers.NewWebhookHandler(interpreter, inboundRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/appointments", apptHandler.Appointments)
	mux.HandleFunc("/api/v1/appointments/start", apptHandler.Start)
	mux.HandleFunc("/api/v1/appointments/complete", apptHandler.Complete)
	mux.HandleFunc("/api/v1/appointments/reschedule", apptHandler.Reschedule)
	mux.HandleFunc("/api/v1/appointments/reminder", apptHandler.ResendReminder)
	mux.HandleFunc("/api/v1/reminders/sweep", sweepHandler.Trigger)
	mux.HandleFunc("/api/v1/sms/inbound", webhookHandler.InboundSMS)

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		defer func() { _ = rdb.Close() }()
		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "reminder")
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
