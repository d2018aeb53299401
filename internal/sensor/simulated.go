package sensor

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-runhub/internal/run"
)

var ErrSimulatedFailure = errors.New("simulated sensor failure")

// SimulatedSource replays a Script. The route position survives Stop, so a
// resumed run continues where it paused.
type SimulatedSource struct {
	script Script
	now    func() time.Time

	mu     sync.Mutex
	cursor int
	steps  int
	cancel context.CancelFunc
	done   chan struct{}
}

type SimOption func(*SimulatedSource)

func WithSimClock(now func() time.Time) SimOption {
	return func(s *SimulatedSource) { s.now = now }
}

func NewSimulatedSource(script Script, opts ...SimOption) *SimulatedSource {
	s := &SimulatedSource{script: script, now: time.Now}
	if s.script.Interval <= 0 {
		s.script.Interval = time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SimulatedSource) Start(ctx context.Context) (<-chan run.SensorEvent, error) {
	if len(s.script.Steps) == 0 {
		return nil, ErrEmptyScript
	}
	s.Stop()

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan run.SensorEvent)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.play(ctx, out, done)
	return out, nil
}

func (s *SimulatedSource) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Finished reports whether every step has been played.
func (s *SimulatedSource) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor >= len(s.script.Steps)
}

func (s *SimulatedSource) play(ctx context.Context, out chan<- run.SensorEvent, done chan struct{}) {
	defer close(done)
	defer close(out)

	ticker := time.NewTicker(s.script.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		events, more := s.pending()
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if !more {
			return
		}
		s.commit()
	}
}

// pending returns the events of the step under the cursor and whether
// playback continues after it. The cursor only moves in commit, once every
// event of the step has been handed over, so a step cut short by Stop is
// replayed on the next Start.
func (s *SimulatedSource) pending() ([]run.SensorEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.script.FailAfter > 0 && s.cursor >= s.script.FailAfter {
		return []run.SensorEvent{{Err: ErrSimulatedFailure}}, false
	}
	if s.cursor >= len(s.script.Steps) {
		return nil, false
	}

	step := s.script.Steps[s.cursor]
	ts := s.now()

	events := []run.SensorEvent{{Location: &run.LocationSample{
		Coordinate: run.Coordinate{Lat: step.Lat, Lng: step.Lng},
		AltitudeM:  step.AltitudeM,
		SpeedMps:   step.SpeedMps,
		Timestamp:  ts,
	}}}
	if step.Steps > 0 || step.CadenceSps != nil {
		events = append(events, run.SensorEvent{Pedometer: &run.PedometerSample{
			CumulativeSteps:    s.steps + step.Steps,
			CadenceStepsPerSec: step.CadenceSps,
			Timestamp:          ts,
		}})
	}
	return events, true
}

func (s *SimulatedSource) commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps += s.script.Steps[s.cursor].Steps
	s.cursor++
}
