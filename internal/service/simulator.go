package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"parking_barrier/internal/logger"
	"parking_barrier/internal/models"
	"parking_barrier/internal/remote"
)

// Sensor distance ranges in cm: a car parked over the sensor reads short.
const (
	occupiedMinCM = 5.0
	occupiedMaxCM = 30.0
	freeMinCM     = 150.0
	freeMaxCM     = 400.0
)

type SimulatorOptions struct {
	Path        string
	CommandPath string
	Spots       int
}

// OccupancySimulator plays the parking hardware against a local store: it
// publishes the occupancy subtree and logs barrier commands written to it.
type OccupancySimulator struct {
	store       remote.Store
	path        string
	commandPath string
	log         *logger.Logger

	rng   *rand.Rand
	now   func() time.Time
	spots []models.ParkingSpot
}

func NewOccupancySimulator(store remote.Store, opts SimulatorOptions, log *logger.Logger) *OccupancySimulator {
	n := opts.Spots
	if n <= 0 {
		n = 3
	}
	s := &OccupancySimulator{
		store:       store,
		path:        opts.Path,
		commandPath: opts.CommandPath,
		log:         logger.OrNop(log).Named("simulator"),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		spots:       make([]models.ParkingSpot, n),
	}
	for i := range s.spots {
		s.spots[i] = models.ParkingSpot{Name: fmt.Sprintf("Estacionamiento %d", i+1)}
		s.spots[i].Distance = s.distance(false)
	}
	return s
}

// Run publishes the initial layout, then toggles one random spot every
// interval until ctx is canceled.
func (s *OccupancySimulator) Run(ctx context.Context, interval time.Duration) {
	if s.commandPath != "" {
		sub, err := s.store.Subscribe(s.commandPath, func(data json.RawMessage) {
			s.log.Infow("barrier_command_received", "path", s.commandPath, "value", string(data))
		}, nil)
		if err != nil {
			s.log.Warnw("simulator_command_watch_failed", "err", err)
		} else {
			defer sub.Remove()
		}
	}

	if err := s.publish(ctx); err != nil {
		s.log.Errorw("simulator_publish_failed", "err", err)
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Step(ctx); err != nil {
				s.log.Errorw("simulator_publish_failed", "err", err)
			}
		}
	}
}

// Step flips one spot and republishes the whole subtree.
func (s *OccupancySimulator) Step(ctx context.Context) error {
	i := s.rng.Intn(len(s.spots))
	s.spots[i].Occupied = !s.spots[i].Occupied
	s.spots[i].Distance = s.distance(s.spots[i].Occupied)
	s.log.Debugw("spot_toggled", "spot", s.spots[i].Name, "occupied", s.spots[i].Occupied)
	return s.publish(ctx)
}

func (s *OccupancySimulator) publish(ctx context.Context) error {
	snap := models.ParkingSnapshot{
		Spots:                 s.spots,
		SourceTimestampMillis: s.now().UnixMilli(),
	}
	raw, err := remote.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, s.path, raw)
}

func (s *OccupancySimulator) distance(occupied bool) float64 {
	lo, hi := freeMinCM, freeMaxCM
	if occupied {
		lo, hi = occupiedMinCM, occupiedMaxCM
	}
	// one decimal, like the ultrasonic sensor reports
	d := lo + s.rng.Float64()*(hi-lo)
	return float64(int(d*10)) / 10
}
