package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"civicreport/internal/events"
	"civicreport/internal/media"
	"civicreport/internal/models"
)

type NewReport struct {
	Title       string
	Description string
	Media       string
}

// Dashboard is a citizen's own reports with their status counts.
type Dashboard struct {
	Reports []models.Report `json:"reports"`
	Summary models.Summary  `json:"summary"`
}

// CreateReport files a pending report owned by actor. A nil actor means
// there is no session.
func (s *Service) CreateReport(ctx context.Context, actor *models.User, in NewReport) (models.Report, error) {
	if err := requireUser(actor); err != nil {
		return models.Report{}, err
	}
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	if title == "" || description == "" {
		return models.Report{}, fmt.Errorf("%w: title and description are required", ErrValidation)
	}
	if err := s.pace(ctx, s.cfg.ReportDelay); err != nil {
		return models.Report{}, err
	}

	var stored string
	if strings.TrimSpace(in.Media) != "" {
		v, err := s.media.Save(ctx, in.Media)
		if errors.Is(err, media.ErrInvalid) || errors.Is(err, media.ErrTooLarge) {
			return models.Report{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if err != nil {
			return models.Report{}, err
		}
		stored = v
	}

	r, err := s.st.CreateReport(ctx, models.Report{
		UserID:      actor.ID,
		Title:       title,
		Description: description,
		Media:       stored,
		Status:      models.StatusPending,
	})
	if err != nil {
		s.discardMedia(ctx, stored)
		return models.Report{}, err
	}
	s.logger.Info("report created", zap.String("report_id", r.ID), zap.String("user_id", r.UserID))
	s.publish(ctx, events.Event{
		Type:     events.TypeReportCreated,
		ReportID: r.ID,
		UserID:   r.UserID,
		ActorID:  actor.ID,
		Status:   r.Status,
	})
	return r, nil
}

// discardMedia removes an attachment saved for a report that was not written.
func (s *Service) discardMedia(ctx context.Context, stored string) {
	if stored == "" {
		return
	}
	if err := s.media.Remove(context.WithoutCancel(ctx), stored); err != nil {
		s.logger.Warn("orphaned media", zap.String("media", stored), zap.Error(err))
	}
}

func (s *Service) ListByOwner(ctx context.Context, userID string) ([]models.Report, error) {
	return s.st.ReportsByOwner(ctx, userID)
}

func Summary(reports []models.Report) models.Summary { return models.Summarize(reports) }

func (s *Service) Dashboard(ctx context.Context, actor *models.User) (Dashboard, error) {
	if err := requireUser(actor); err != nil {
		return Dashboard{}, err
	}
	reports, err := s.ListByOwner(ctx, actor.ID)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Reports: reports, Summary: Summary(reports)}, nil
}

// ListAll returns every report in stored order.
func (s *Service) ListAll(ctx context.Context, actor *models.User) ([]models.Report, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.st.Reports(ctx)
}

// UpdateStatus moves report id to the given status. An unknown id is not an
// error; found reports whether anything was written.
func (s *Service) UpdateStatus(ctx context.Context, actor *models.User, id, status string) (report models.Report, found bool, err error) {
	if err := requireAdmin(actor); err != nil {
		return models.Report{}, false, err
	}
	next, err := models.ParseStatus(status)
	if err != nil {
		return models.Report{}, false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var previous models.Status
	report, found, err = s.st.UpdateReportStatus(ctx, id, func(current models.Status) (models.Status, error) {
		previous = current
		if !s.transitions.Allowed(current, next) {
			return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
		}
		return next, nil
	})
	if err != nil || !found {
		return report, found, err
	}
	s.logger.Info("report status changed",
		zap.String("report_id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
		zap.String("actor_id", actor.ID),
	)
	s.publish(ctx, events.Event{
		Type:           events.TypeReportStatusChanged,
		ReportID:       report.ID,
		UserID:         report.UserID,
		ActorID:        actor.ID,
		Status:         next,
		PreviousStatus: previous,
	})
	return report, true, nil
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	e.At = s.now().UTC()
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("publish event", zap.String("type", e.Type), zap.String("report_id", e.ReportID), zap.Error(err))
	}
}
