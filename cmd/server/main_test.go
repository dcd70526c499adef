package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/99minutos/identity-service/internal/infrastructure/config"
	"github.com/99minutos/identity-service/internal/infrastructure/mail"
	"github.com/99minutos/identity-service/internal/infrastructure/queue"
	"github.com/99minutos/identity-service/pkg/logger"
)

func initTestLogger(t *testing.T) {
	t.Helper()
	logger.Reset()
	t.Cleanup(logger.Reset)
	logger.Init(logger.Options{Output: io.Discard})
}

func TestBuildMailer_LogsWithoutSMTPHost(t *testing.T) {
	initTestLogger(t)
	cfg := &config.Config{Env: "development"}

	m, closeFn, err := buildMailer(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("buildMailer: %v", err)
	}
	defer closeFn()

	if _, ok := m.(*mail.LogMailer); !ok {
		t.Fatalf("expected *mail.LogMailer, got %T", m)
	}
}

func TestBuildMailer_AsyncWrapsInDispatcher(t *testing.T) {
	initTestLogger(t)
	cfg := &config.Config{Env: "development"}
	cfg.Mail.Async = true
	cfg.Mail.Workers = 2

	m, closeFn, err := buildMailer(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("buildMailer: %v", err)
	}
	if _, ok := m.(*queue.Dispatcher); !ok {
		t.Fatalf("expected *queue.Dispatcher, got %T", m)
	}
	if err := m.Send(context.Background(), "a@x.com", "s", "b"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	closeFn()
	if err := m.Send(context.Background(), "a@x.com", "s", "b"); !errors.Is(err, queue.ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed after close, got %v", err)
	}
}

func TestBuildMailer_RejectsIncompleteSMTP(t *testing.T) {
	initTestLogger(t)
	cfg := &config.Config{Env: "production"}
	cfg.Mail.SMTPHost = "smtp.example.com"
	cfg.Mail.SMTPPort = 587

	if _, _, err := buildMailer(context.Background(), cfg, zerolog.Nop()); !errors.Is(err, mail.ErrSMTPNoSender) {
		t.Fatalf("expected ErrSMTPNoSender, got %v", err)
	}
}
