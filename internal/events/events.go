// Package events publishes report lifecycle notifications.
package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"civicreport/internal/models"
)

const (
	TypeReportCreated       = "report.created"
	TypeReportStatusChanged = "report.status_changed"
)

var ErrClosed = errors.New("publisher closed")

type Event struct {
	Type           string        `json:"type"`
	ReportID       string        `json:"reportId"`
	UserID         string        `json:"userId,omitempty"`
	ActorID        string        `json:"actorId,omitempty"`
	Status         models.Status `json:"status"`
	PreviousStatus models.Status `json:"previousStatus,omitempty"`
	At             time.Time     `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Log writes every event to the logger.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Publish(_ context.Context, e Event) error {
	l.Logger.Info("report event",
		zap.String("type", e.Type),
		zap.String("report_id", e.ReportID),
		zap.String("user_id", e.UserID),
		zap.String("actor_id", e.ActorID),
		zap.String("status", string(e.Status)),
		zap.String("previous_status", string(e.PreviousStatus)),
		zap.Time("at", e.At),
	)
	return nil
}

func (Log) Close() error { return nil }
