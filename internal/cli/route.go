package cli

import (
	"context"
	"sync"
	"time"

	"backend-runhub/internal/run"
	"backend-runhub/internal/sensor"
)

// routeSource wraps a SimulatedSource and reports when the route has been
// played to the end, along with the timestamp of the last event and how
// many events carried it.
type routeSource struct {
	sim *sensor.SimulatedSource

	mu        sync.Mutex
	last      time.Time
	lastCount int
	exhausted chan struct{}
	once      sync.Once
}

func newRouteSource(sim *sensor.SimulatedSource) *routeSource {
	return &routeSource{sim: sim, exhausted: make(chan struct{})}
}

func (r *routeSource) Start(ctx context.Context) (<-chan run.SensorEvent, error) {
	in, err := r.sim.Start(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan run.SensorEvent)
	go func() {
		defer close(out)
		for ev := range in {
			var ts time.Time
			switch {
			case ev.Location != nil:
				ts = ev.Location.Timestamp
			case ev.Pedometer != nil:
				ts = ev.Pedometer.Timestamp
			}
			if !ts.IsZero() {
				r.record(ts)
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if r.sim.Finished() {
			r.once.Do(func() { close(r.exhausted) })
		}
	}()
	return out, nil
}

func (r *routeSource) Stop() {
	r.sim.Stop()
}

func (r *routeSource) record(ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts.Equal(r.last) {
		r.lastCount++
		return
	}
	r.last = ts
	r.lastCount = 1
}

// caughtUp reports whether n snapshots stamped at ts cover every event
// forwarded at the latest timestamp.
func (r *routeSource) caughtUp(ts time.Time, n int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.last.IsZero() && ts.Equal(r.last) && n >= r.lastCount
}
