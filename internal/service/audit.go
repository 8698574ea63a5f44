package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"parking_barrier/internal/logger"
	"parking_barrier/internal/models"
	"parking_barrier/internal/repository"
)

// ErrNotAuthenticated is returned when an operation needs a user and none is present.
var ErrNotAuthenticated = errors.New("not authenticated")

const historyLimit = 100

// AuditService is the append-only history sink. Writes are fire-and-forget
// and are not retried.
type AuditService struct {
	repo    repository.AuditRepo
	timeout time.Duration
	log     *logger.Logger
}

func NewAuditService(repo repository.AuditRepo, timeout time.Duration, log *logger.Logger) *AuditService {
	return &AuditService{repo: repo, timeout: timeout, log: logger.OrNop(log).Named("audit")}
}

var _ AuditSubmitter = (*AuditService)(nil)

// Submit appends rec in the background and returns immediately.
func (s *AuditService) Submit(ctx context.Context, rec models.AuditRecord, onFailure func(error)) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		if err := s.repo.Append(ctx, rec); err != nil {
			if onFailure != nil {
				onFailure(fmt.Errorf("append audit %s: %w", rec.ID, err))
			}
			return
		}
		s.log.Debugw("audit_appended", "id", rec.ID, "user_id", rec.UserID, "action", rec.Action)
	}()
}

// History lists a user's records, newest first.
func (s *AuditService) History(ctx context.Context, userID string) ([]models.AuditRecord, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	recs, err := s.repo.ListByUser(ctx, userID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return recs, nil
}
