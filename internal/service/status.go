package service

import (
	"time"

	"parking_barrier/internal/models"
)

// Evaluate returns Disconnected iff now - last > threshold.
func Evaluate(lastUpdateMillis, nowMillis, thresholdMillis int64) models.ConnectivityVerdict {
	if nowMillis-lastUpdateMillis > thresholdMillis {
		return models.Disconnected
	}
	return models.Connected
}

// Aggregate applies the display precedence:
// Disconnected > Loading (no spots) > Full (all occupied) > Open.
func Aggregate(spots []models.ParkingSpot, verdict models.ConnectivityVerdict) models.AggregateStatus {
	if verdict == models.Disconnected {
		return models.StatusDisconnected
	}
	if len(spots) == 0 {
		return models.StatusLoading
	}
	for _, s := range spots {
		if !s.Occupied {
			return models.StatusOpen
		}
	}
	return models.StatusFull
}

func newStatusView(snap models.ParkingSnapshot, verdict models.ConnectivityVerdict, at time.Time) *models.StatusView {
	status := Aggregate(snap.Spots, verdict)
	return &models.StatusView{
		Status:      status,
		Display:     status.Display(),
		Verdict:     verdict,
		Snapshot:    snap.Clone(),
		EvaluatedAt: at,
	}
}
