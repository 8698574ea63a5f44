package service

import (
	"context"
	"time"

	"parking_barrier/internal/config"
	"parking_barrier/internal/logger"
	"parking_barrier/internal/models"
	"parking_barrier/internal/remote"
	"parking_barrier/internal/repository"
)

type Authorization interface {
	SignUp(email, password string) (int, error)
	GenerateToken(email, password string) (string, error)
	ParseToken(accessToken string) (models.SessionUser, error)
	ChangePassword(userID, current, next string) error
}

// Feed exposes the synchronized parking status.
type Feed interface {
	Start(ctx context.Context) (*FeedHandle, error)
	Stop(h *FeedHandle)
	Latest() models.StatusView
	Subscribe(fn func(models.FeedEvent)) func()
}

// Barrier gates and issues the open command.
type Barrier interface {
	Trigger(ctx context.Context, status models.AggregateStatus, user *models.SessionUser) (string, error)
	State() models.BarrierCommandState
	OnEvent(fn func(models.BarrierEvent)) func()
}

// AuditLog reads the append-only history.
type AuditLog interface {
	History(ctx context.Context, userID string) ([]models.AuditRecord, error)
}

// Simulator runs the local occupancy loop.
// Stop via context cancellation in main() for graceful shutdown.
type Simulator interface {
	Run(ctx context.Context, interval time.Duration)
}

type Service struct {
	Feed          Feed
	Barrier       Barrier
	AuditLog      AuditLog
	Simulator     Simulator // nil unless simulator.enabled
	Authorization Authorization
}

// Deps are the collaborators NewService wires together.
type Deps struct {
	Repos    *repository.Repository
	Source   remote.Subscriber
	Commands remote.Writer
	// SimStore is the in-process store the simulator publishes to; nil disables it.
	SimStore remote.Store
	Config   config.Config
	Log      *logger.Logger
}

func NewService(d Deps) *Service {
	cfg := d.Config
	audit := NewAuditService(d.Repos.AuditRepo, cfg.AuditWriteTimeout, d.Log)

	s := &Service{
		Feed: NewSyncFeed(d.Source, FeedOptions{
			Path:           cfg.Feed.Path,
			StaleThreshold: cfg.Feed.StaleThreshold,
			Tick:           cfg.Feed.Tick,
		}, d.Log),
		Barrier: NewBarrierController(d.Commands, audit, BarrierOptions{
			CommandPath:  cfg.Barrier.CommandPath,
			Pulse:        cfg.Barrier.Pulse,
			Cooldown:     cfg.Barrier.Cooldown,
			WriteTimeout: cfg.Barrier.WriteTimeout,
		}, d.Log),
		AuditLog:      audit,
		Authorization: NewAuthService(d.Repos.Auth, cfg.Auth.SigningKey, cfg.Auth.TokenTTL),
	}
	if d.SimStore != nil {
		s.Simulator = NewOccupancySimulator(d.SimStore, SimulatorOptions{
			Path:        cfg.Feed.Path,
			CommandPath: cfg.Barrier.CommandPath,
			Spots:       cfg.Simulator.Spots,
		}, d.Log)
	}
	return s
}
