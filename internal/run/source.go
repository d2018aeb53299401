package run

import (
	"context"
	"errors"
)

// ErrAlreadyRunning is returned by Start while a run is Running or Paused.
var ErrAlreadyRunning = errors.New("run already in progress")

// SensorSource supplies location and pedometer events. The source has no
// pause: each Start opens a new subscription and Stop ends the current one.
// The returned channel is closed when the subscription ends; an event with
// Err set is the last one delivered.
type SensorSource interface {
	Start(ctx context.Context) (<-chan SensorEvent, error)
	Stop()
}
