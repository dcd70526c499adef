package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/99minutos/identity-service/internal/api"
	"github.com/99minutos/identity-service/internal/api/handler"
	"github.com/99minutos/identity-service/internal/core/ports"
	"github.com/99minutos/identity-service/internal/core/service"
	"github.com/99minutos/identity-service/internal/infrastructure/config"
	mongostore "github.com/99minutos/identity-service/internal/infrastructure/db/mongo"
	redisstore "github.com/99minutos/identity-service/internal/infrastructure/db/redis"
	"github.com/99minutos/identity-service/internal/infrastructure/mail"
	"github.com/99minutos/identity-service/internal/infrastructure/queue"
	"github.com/99minutos/identity-service/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

// @title                       Identity Service API
// @version                     1.0
// @description                 Email OTP signup, password login and bearer token issuance.
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log := logger.Get()
		log.Fatal().Err(err).Msg("identity service stopped")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Init(logger.Options{Service: "identity-service"})
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "identity-service",
		Env:     cfg.Env,
	})

	// --- Storage ---
	mongoClient, db, err := mongostore.Connect(ctx, mongostore.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = mongoClient.Disconnect(dctx)
	}()

	users := mongostore.NewCredentialStore(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		return err
	}

	readiness := []handler.DependencyCheck{
		{Name: "mongodb", Ping: func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }},
	}

	var otpStore ports.OTPStore
	switch cfg.OTP.Store {
	case config.OTPStoreMongo:
		store := mongostore.NewOTPStore(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return err
		}
		otpStore = store
	default:
		rdb, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		otpStore = redisstore.NewOTPStore(rdb)
		readiness = append(readiness, handler.DependencyCheck{Name: "redis", Ping: redisPing(rdb)})
	}
	log.Info().Str("otp_store", cfg.OTP.Store).Msg("storage ready")

	// --- Mail ---
	mailer, closeMailer, err := buildMailer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeMailer()

	// --- Core ---
	tokens, err := service.NewTokenCodec(cfg.JWT.Secret, cfg.JWT.TTL, nil)
	if err != nil {
		return err
	}
	authService := service.NewAuthService(
		users,
		service.NewOTPLedger(otpStore, service.RandomCodeGenerator{}, cfg.OTP.TTL, nil),
		mailer,
		service.NewBcryptHasher(cfg.Bcrypt.Cost),
		tokens,
		nil,
		logger.Component("auth"),
	)

	// --- HTTP ---
	e := api.NewRouter(api.Dependencies{
		AuthService: authService,
		Readiness:   readiness,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger.Component("http"),
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down http server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(sctx)
}

// buildMailer returns the configured ports.Mailer and a func releasing it.
// Without an SMTP host, codes are written to the log; config validation only
// allows that in development.
func buildMailer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ports.Mailer, func(), error) {
	var mailer ports.Mailer
	if cfg.Mail.SMTPHost == "" {
		log.Warn().Msg("SMTP_HOST not set, OTP mails are logged instead of sent")
		mailer = mail.NewLogMailer(logger.Component("mail"))
	} else {
		smtpMailer, err := mail.NewSMTP(mail.SMTPConfig{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
			Timeout:  cfg.Mail.Timeout,
			Retries:  cfg.Mail.Retries,
		})
		if err != nil {
			return nil, nil, err
		}
		mailer = smtpMailer
	}

	if !cfg.Mail.Async {
		return mailer, func() {}, nil
	}

	dispatcher := queue.NewDispatcher(cfg.Mail.Workers, mailer, logger.Component("mail-dispatcher"))
	// Detached so Stop can drain queued mail after the signal context is cancelled.
	dispatcher.Start(context.WithoutCancel(ctx))
	return dispatcher, dispatcher.Stop, nil
}

func redisPing(rdb *goredis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
