// Package events publishes report status transitions to NATS so other
// services can follow runs without polling the HTTP surface.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultSubjectPrefix = "flowreplay.reports"
	drainTimeout         = 5 * time.Second
)

var ErrNotConnected = errors.New("not connected to NATS")

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Drain() error
	Close()
}

// StatusMessage is the body of a status transition message.
type StatusMessage struct {
	ReportID  string               `json:"reportId"`
	Status    schemas.ReportStatus `json:"status"`
	ExitCode  *int                 `json:"exitCode,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Publisher sends status transitions to <prefix>.<reportId>.<status>.
type Publisher struct {
	conn   Conn
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher wraps an established connection.
func NewPublisher(conn Conn, prefix string, logger *zap.Logger) *Publisher {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &Publisher{
		conn:   conn,
		prefix: prefix,
		logger: logger.Named("events"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Connect dials NATS using the events configuration. An empty URL returns
// (nil, nil): publication is disabled.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*Publisher, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	log := logger.Named("events")
	opts := []nats.Option{
		nats.Name("flowreplay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("Disconnected from NATS.", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("Reconnected to NATS.", zap.String("url", c.ConnectedUrl()))
		}),
	}
	conn, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	log.Info("Connected to NATS.", zap.String("url", conn.ConnectedUrl()))
	return NewPublisher(conn, cfg.SubjectPrefix, logger), nil
}

// Subject is the subject a transition of reportID to status is published on.
func (p *Publisher) Subject(reportID string, status schemas.ReportStatus) string {
	return p.prefix + "." + sanitizeToken(reportID) + "." + string(status)
}

// SetStatus publishes one transition. It satisfies the supervisor's status sink.
func (p *Publisher) SetStatus(_ context.Context, reportID string, status schemas.ReportStatus, exitCode *int) error {
	if p == nil {
		return nil
	}
	if !p.conn.IsConnected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(StatusMessage{ReportID: reportID, Status: status, ExitCode: exitCode, Timestamp: p.now()})
	if err != nil {
		return fmt.Errorf("failed to encode status message: %w", err)
	}
	subject := p.Subject(reportID, status)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.logger.Debug("Published status.", zap.String("subject", subject))
	return nil
}

// Close drains the connection, falling back to a hard close when ctx ends first.
func (p *Publisher) Close(ctx context.Context) error {
	if p == nil {
		return nil
	}
	drained := make(chan error, 1)
	go func() { drained <- p.conn.Drain() }()
	select {
	case err := <-drained:
		return err
	case <-ctx.Done():
		p.conn.Close()
		return fmt.Errorf("drain interrupted: %w", ctx.Err())
	}
}

// sanitizeToken keeps a report id from adding subject levels or wildcards.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
