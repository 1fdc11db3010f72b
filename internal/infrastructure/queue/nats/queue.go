// Package nats publishes upload events.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/infrastructure/resilience"
)

const DefaultSubject = "documents.uploaded"

type publishFunc func(subject string, data []byte) error

type Publisher struct {
	conn     *nats.Conn
	publish  publishFunc
	subject  string
	executor *resilience.Executor
}

type Options struct {
	Subject            string
	ConnectTimeout     time.Duration
	ReconnectWait      time.Duration
	MaxReconnects      int
	ResilienceExecutor *resilience.Executor
}

type UploadedEvent struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	Filename       string    `json:"filename"`
	StorageKey     string    `json:"storage_key"`
	Format         string    `json:"format"`
	SizeBytes      int64     `json:"size_bytes"`
	ExtractedChars int       `json:"extracted_chars"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

func Connect(url string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docchat"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	p := newPublisher(conn.Publish, options)
	p.conn = conn
	return p, nil
}

func newPublisher(publish publishFunc, options Options) *Publisher {
	subject := options.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{
		publish:  publish,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.FlushTimeout(5 * time.Second); err != nil {
		slog.Warn("nats_flush_failed", "error", err)
	}
	p.conn.Close()
}

func (p *Publisher) PublishUploaded(ctx context.Context, file *domain.UploadedFile) error {
	if file == nil {
		return domain.WrapError(domain.ErrInvalidInput, "publish upload", fmt.Errorf("upload is nil"))
	}
	payload, err := json.Marshal(UploadedEvent{
		ID:             file.ID,
		SessionID:      file.SessionID,
		Filename:       file.OriginalFilename,
		StorageKey:     file.StorageKey,
		Format:         string(file.Format),
		SizeBytes:      file.SizeBytes,
		ExtractedChars: file.ExtractedChars,
		UploadedAt:     file.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal upload event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := p.publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}
