package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultTickInterval       = time.Second
	DefaultBufferSize         = 64
	DefaultMinDistanceForPace = 1.0
)

// Session owns the lifecycle of one run: Idle -> Running <-> Paused -> Stopped.
//
// Public operations are serialised by opMu. Event and tick handlers take
// only mu, so an operation may wait for background work to exit after
// releasing mu. Every subscription and ticker is tagged with the epoch it
// was started under; bumping the epoch makes late events and ticks no-ops.
type Session struct {
	source       SensorSource
	now          func() time.Time
	tickInterval time.Duration
	bufferSize   int
	minDistance  float64
	zones        *PaceZones
	logger       *zap.Logger

	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	epoch   uint64
	acc     accumulator
	stream  *SnapshotStream
	runDone chan struct{}
	sub     *task
	ticker  *task
	orphans []*task
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

func WithBufferSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithMinDistanceForPace sets the distance below which average pace is
// reported as zero.
func WithMinDistanceForPace(meters float64) Option {
	return func(s *Session) { s.minDistance = meters }
}

// WithExtendedStats tags every path point with its pace zone.
func WithExtendedStats(zones PaceZones) Option {
	return func(s *Session) { s.zones = &zones }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSession(source SensorSource, opts ...Option) *Session {
	s := &Session{
		source:       source,
		now:          time.Now,
		tickInterval: DefaultTickInterval,
		bufferSize:   DefaultBufferSize,
		minDistance:  DefaultMinDistanceForPace,
		logger:       zap.NewNop(),
		acc:          newAccumulator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a new logical run and returns its snapshot stream.
// Cancelling ctx has the same effect as closing the stream.
func (s *Session) Start(ctx context.Context) (*SnapshotStream, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.reap()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == Running || state == Paused {
		return nil, ErrAlreadyRunning
	}

	subCtx, cancel := context.WithCancel(context.Background())
	events, err := s.source.Start(subCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start sensors: %w", err)
	}

	s.mu.Lock()
	s.acc.reset()
	s.acc.startedAt = s.now()
	s.state = Running
	s.epoch++
	stream := newSnapshotStream(s.bufferSize)
	runDone := make(chan struct{})
	s.stream = stream
	s.runDone = runDone
	s.subscribeLocked(subCtx, cancel, events)
	s.startTickerLocked()
	s.mu.Unlock()

	go s.supervise(ctx, stream, runDone)

	s.logger.Debug("run started")
	return stream, nil
}

func (s *Session) Pause() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.reap()

	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Paused
	s.acc.pausedAt = s.now()
	s.epoch++
	tasks := s.detachLocked()
	s.acc.clearContinuity()
	s.mu.Unlock()

	s.source.Stop()
	wait(tasks)
	s.logger.Debug("run paused")
}

// Resume re-acquires the sensors with a fresh subscription. If the source
// cannot be started the run ends as if the sensors had failed.
func (s *Session) Resume() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.reap()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != Paused {
		return nil
	}

	subCtx, cancel := context.WithCancel(context.Background())
	events, err := s.source.Start(subCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		cancel()
		s.failLocked(err)
		return fmt.Errorf("resume sensors: %w", err)
	}

	s.acc.totalPaused += s.now().Sub(s.acc.pausedAt)
	s.acc.pausedAt = time.Time{}
	s.acc.clearContinuity()
	s.state = Running
	s.epoch++
	s.subscribeLocked(subCtx, cancel, events)
	s.startTickerLocked()
	s.logger.Debug("run resumed")
	return nil
}

// Stop ends the run and returns its Detail. Called outside Running or
// Paused it reports whatever the accumulators hold. Either way the
// accumulators are reset afterwards.
func (s *Session) Stop() Detail {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.reap()
	return s.stop()
}

// stop requires opMu.
func (s *Session) stop() Detail {
	s.mu.Lock()
	wasRunning := s.state == Running
	var tasks []*task
	if s.state == Running || s.state == Paused {
		s.acc.endedAt = s.acc.endTime(s.now())
		s.state = Stopped
		s.epoch++
		tasks = s.detachLocked()
		s.stream.finish(nil)
		close(s.runDone)
	}
	detail := s.acc.detail(s.now(), s.minDistance)
	s.acc.reset()
	s.mu.Unlock()

	if wasRunning {
		s.source.Stop()
	}
	wait(tasks)
	s.logger.Debug("run stopped",
		zap.Float64("distance_m", detail.TotalDistanceMeters),
		zap.Float64("elapsed_sec", detail.ElapsedSeconds),
	)
	return detail
}

// supervise stops the run when its consumer goes away.
func (s *Session) supervise(ctx context.Context, stream *SnapshotStream, runDone <-chan struct{}) {
	select {
	case <-runDone:
		return
	case <-ctx.Done():
	case <-stream.abandoned:
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.reap()

	s.mu.Lock()
	current := s.stream == stream && (s.state == Running || s.state == Paused)
	s.mu.Unlock()
	if !current {
		return
	}
	s.logger.Debug("snapshot consumer gone, stopping run")
	s.stop()
}

// subscribeLocked replaces any outstanding subscription.
func (s *Session) subscribeLocked(ctx context.Context, cancel context.CancelFunc, events <-chan SensorEvent) {
	if s.sub != nil {
		s.sub.cancel()
		s.orphans = append(s.orphans, s.sub)
	}
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.sub = t
	go s.consume(ctx, s.epoch, events, t.done)
}

func (s *Session) startTickerLocked() {
	if s.ticker != nil {
		s.ticker.cancel()
		s.orphans = append(s.orphans, s.ticker)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.ticker = t
	go s.tick(ctx, s.epoch, t.done)
}

// detachLocked cancels the subscription and ticker and hands them back so
// the caller can wait for them once mu is released.
func (s *Session) detachLocked() []*task {
	var tasks []*task
	for _, t := range []*task{s.sub, s.ticker} {
		if t != nil {
			t.cancel()
			tasks = append(tasks, t)
		}
	}
	s.sub, s.ticker = nil, nil
	return tasks
}

// reap waits for tasks cancelled outside an operation (sensor failure).
// Requires opMu, must not hold mu.
func (s *Session) reap() {
	s.mu.Lock()
	orphans := s.orphans
	s.orphans = nil
	s.mu.Unlock()
	wait(orphans)
}

func wait(tasks []*task) {
	for _, t := range tasks {
		<-t.done
	}
}

func (s *Session) consume(ctx context.Context, epoch uint64, events <-chan SensorEvent, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				if errors.Is(ev.Err, context.Canceled) {
					return
				}
				s.fail(epoch, ev.Err)
				return
			}
			s.handle(epoch, ev)
		}
	}
}

func (s *Session) tick(ctx context.Context, epoch uint64, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.epoch == epoch && s.state == Running {
				s.pushLocked(s.acc.tickSnapshot(s.now()))
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) handle(epoch uint64, ev SensorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.state != Running {
		return
	}

	switch {
	case ev.Location != nil:
		s.acc.addLocation(*ev.Location, s.zones)
		s.emitLocked(s.stamp(ev.Location.Timestamp))
	case ev.Pedometer != nil:
		s.acc.addPedometer(*ev.Pedometer)
		s.emitLocked(s.stamp(ev.Pedometer.Timestamp))
	}
}

func (s *Session) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return s.now()
	}
	return ts
}

func (s *Session) emitLocked(at time.Time) {
	s.pushLocked(s.acc.snapshot(at))
}

func (s *Session) pushLocked(snap Snapshot) {
	if !s.stream.push(snap) {
		s.logger.Debug("snapshot dropped, stream closed")
	}
}

// fail runs on the subscription goroutine, so it cannot wait for itself;
// the cancelled tasks are left for the next operation to reap.
func (s *Session) fail(epoch uint64, err error) {
	s.mu.Lock()
	if s.epoch != epoch || s.state != Running {
		s.mu.Unlock()
		return
	}
	s.failLocked(err)
	s.mu.Unlock()
	s.source.Stop()
}

// failLocked ends the run with err but keeps the accumulators so a later
// Stop can still report what was gathered.
func (s *Session) failLocked(err error) {
	s.logger.Warn("sensor subscription failed", zap.Error(err))
	s.acc.endedAt = s.acc.endTime(s.now())
	s.state = Stopped
	s.epoch++
	s.orphans = append(s.orphans, s.detachLocked()...)
	s.stream.finish(err)
	close(s.runDone)
}
