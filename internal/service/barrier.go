package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"parking_barrier/internal/logger"
	"parking_barrier/internal/models"
	"parking_barrier/internal/remote"
)

// Trigger rejection reasons. Match with errors.Is on the returned error.
var (
	ErrAlreadyInProgress = errors.New("barrier command already in progress")
	ErrLotFull           = errors.New("parking lot is full")
	ErrNotConnected      = errors.New("parking system not connected")
)

// RejectedError is returned synchronously by Trigger; no state changed.
type RejectedError struct {
	Reason error
}

func (e *RejectedError) Error() string { return "trigger rejected: " + e.Reason.Error() }
func (e *RejectedError) Unwrap() error { return e.Reason }

// AuditSubmitter accepts records without blocking. onFailure runs at most
// once, from another goroutine, if the write fails.
type AuditSubmitter interface {
	Submit(ctx context.Context, rec models.AuditRecord, onFailure func(error))
}

type BarrierOptions struct {
	CommandPath  string
	Pulse        time.Duration
	Cooldown     time.Duration
	WriteTimeout time.Duration
}

// BarrierController runs the Idle -> Pulsing -> [CoolingDown ->] Idle cycle.
// The state word is only advanced with compare-and-swap from Trigger and
// from the timer callbacks; there is no lock to contend with.
type BarrierController struct {
	writer remote.Writer
	audit  AuditSubmitter
	opts   BarrierOptions
	log    *logger.Logger

	now       func() time.Time
	schedule  func(d time.Duration, fn func())
	requestID func() string

	state atomic.Int32
	bus   *broadcaster[models.BarrierEvent]
}

func NewBarrierController(writer remote.Writer, audit AuditSubmitter, opts BarrierOptions, log *logger.Logger) *BarrierController {
	c := &BarrierController{
		writer:    writer,
		audit:     audit,
		opts:      opts,
		log:       logger.OrNop(log).Named("barrier"),
		now:       time.Now,
		schedule:  func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		requestID: uuid.NewString,
	}
	c.bus = newBroadcaster[models.BarrierEvent]("barrier", 0, c.log)
	return c
}

func (c *BarrierController) State() models.BarrierCommandState {
	return models.BarrierCommandState(c.state.Load())
}

// OnEvent registers fn for barrier events until the returned func is called.
func (c *BarrierController) OnEvent(fn func(models.BarrierEvent)) func() {
	return c.bus.Subscribe(fn)
}

// Trigger gates an open request against the current aggregate status and,
// when accepted, starts a pulse. It returns the request id of the pulse.
// The command writes and the audit write are best effort: their failures are
// reported as events and never reject or shorten the pulse.
func (c *BarrierController) Trigger(ctx context.Context, status models.AggregateStatus, user *models.SessionUser) (string, error) {
	if c.State() != models.BarrierIdle {
		return "", &RejectedError{Reason: ErrAlreadyInProgress}
	}
	switch status {
	case models.StatusFull:
		return "", &RejectedError{Reason: ErrLotFull}
	case models.StatusDisconnected:
		return "", &RejectedError{Reason: ErrNotConnected}
	}
	if !c.state.CompareAndSwap(int32(models.BarrierIdle), int32(models.BarrierPulsing)) {
		return "", &RejectedError{Reason: ErrAlreadyInProgress}
	}

	reqID := c.requestID()
	// writes outlive the caller's request
	bg := context.WithoutCancel(ctx)
	c.emit(models.BarrierEventAccepted, reqID, models.BarrierPulsing, "")
	c.log.Infow("barrier_pulse_started", "request_id", reqID, "status", status, "pulse", c.opts.Pulse)

	raised := make(chan struct{})
	go func() {
		defer close(raised)
		c.writeCommand(bg, reqID, true)
	}()

	if user != nil && user.ID != "" {
		rec := models.AuditRecord{
			UserID:          user.ID,
			UserEmail:       user.Email,
			Action:          models.ActionOpenBarrier,
			TimestampMillis: c.now().UnixMilli(),
		}
		c.audit.Submit(bg, rec, func(err error) {
			c.log.Errorw("audit_write_failed", "request_id", reqID, "user_id", user.ID, "err", err)
			c.emit(models.BarrierEventAuditWriteFailed, reqID, c.State(), err.Error())
		})
	}

	c.schedule(c.opts.Pulse, func() {
		// false must never overtake true
		<-raised
		c.writeCommand(bg, reqID, false)
		c.finishPulse(reqID)
	})
	return reqID, nil
}

func (c *BarrierController) finishPulse(reqID string) {
	if c.opts.Cooldown <= 0 {
		c.state.Store(int32(models.BarrierIdle))
		c.complete(reqID)
		return
	}
	c.state.Store(int32(models.BarrierCoolingDown))
	c.schedule(c.opts.Cooldown, func() {
		c.state.Store(int32(models.BarrierIdle))
		c.complete(reqID)
	})
}

func (c *BarrierController) complete(reqID string) {
	c.log.Infow("barrier_pulse_completed", "request_id", reqID)
	c.emit(models.BarrierEventCompleted, reqID, models.BarrierIdle, "")
}

func (c *BarrierController) writeCommand(ctx context.Context, reqID string, value bool) {
	wctx := ctx
	if c.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, c.opts.WriteTimeout)
		defer cancel()
	}
	if err := c.writer.Set(wctx, c.opts.CommandPath, value); err != nil {
		err = fmt.Errorf("write %t to %s: %w", value, c.opts.CommandPath, err)
		c.log.Errorw("barrier_command_write_failed", "request_id", reqID, "value", value, "err", err)
		c.emit(models.BarrierEventCommandWriteFailed, reqID, c.State(), err.Error())
	}
}

// emit takes the state explicitly: by the time it runs another trigger may
// already have moved the controller on.
func (c *BarrierController) emit(eventType, reqID string, state models.BarrierCommandState, msg string) {
	c.bus.Publish(models.BarrierEvent{
		Type:       eventType,
		RequestID:  reqID,
		State:      state,
		OccurredAt: c.now(),
		Message:    msg,
	})
}
