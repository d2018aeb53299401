package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-runhub/internal/run"
	"backend-runhub/internal/sensor"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrRunNotLive        = errors.New("run is not live")
	ErrIngestUnsupported = errors.New("run does not accept pushed samples")
)

// Store persists runs. *Repository is the production implementation.
type Store interface {
	CreateRun(ctx context.Context, id, userID string, startedAt time.Time) error
	FinishRun(ctx context.Context, id string, out Outcome) error
	SavePath(ctx context.Context, id string, path []run.PathPoint) error
	GetRun(ctx context.Context, id string) (Record, error)
	Path(ctx context.Context, id string) ([]run.PathPoint, error)
}

// Publisher receives live snapshots. *stream.Hub is the production
// implementation.
type Publisher interface {
	PublishSnapshot(runID string, snap run.Snapshot)
	PublishEnd(runID, status, errMsg string)
}

// SourceFactory builds the sensor source for a new run.
type SourceFactory func(runID string) (run.SensorSource, error)

// Manager owns every live run of this instance.
type Manager struct {
	store   Store
	pub     Publisher
	sources SourceFactory
	opts    []run.Option
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	live map[string]*liveRun
}

type liveRun struct {
	id        string
	userID    string
	startedAt time.Time
	session   *run.Session
	source    run.SensorSource
	stream    *run.SnapshotStream
	pumpDone  chan struct{}

	mu   sync.Mutex
	last *run.Snapshot
}

type ManagerOption func(*Manager)

// WithSessionOptions applies opts to every run session.
func WithSessionOptions(opts ...run.Option) ManagerOption {
	return func(m *Manager) { m.opts = append(m.opts, opts...) }
}

func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func withManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(store Store, pub Publisher, sources SourceFactory, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		pub:     pub,
		sources: sources,
		logger:  zap.NewNop(),
		now:     time.Now,
		live:    map[string]*liveRun{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a new run for userID and begins streaming its snapshots.
func (m *Manager) Start(ctx context.Context, userID string) (Record, error) {
	id := uuid.NewString()
	src, err := m.sources(id)
	if err != nil {
		return Record{}, fmt.Errorf("sensor source: %w", err)
	}

	logger := m.logger.With(zap.String("run_id", id))
	opts := append(append([]run.Option{}, m.opts...), run.WithLogger(logger), run.WithClock(m.now))
	session := run.NewSession(src, opts...)

	startedAt := m.now()
	if err := m.store.CreateRun(ctx, id, userID, startedAt); err != nil {
		return Record{}, fmt.Errorf("create run: %w", err)
	}

	// The run outlives the request that started it.
	stream, err := session.Start(context.Background())
	if err != nil {
		out := Outcome{Status: StatusFailed, EndedAt: m.now(), Failure: err.Error()}
		if ferr := m.store.FinishRun(ctx, id, out); ferr != nil {
			logger.Warn("record failed start", zap.Error(ferr))
		}
		return Record{}, err
	}

	lr := &liveRun{
		id:        id,
		userID:    userID,
		startedAt: startedAt,
		session:   session,
		source:    src,
		stream:    stream,
		pumpDone:  make(chan struct{}),
	}
	m.mu.Lock()
	m.live[id] = lr
	m.mu.Unlock()

	go m.pump(lr)

	logger.Info("run started", zap.String("user_id", userID))
	return Record{ID: id, UserID: userID, Status: StatusActive, StartedAt: startedAt}, nil
}

func (m *Manager) Pause(id string) error {
	lr, err := m.get(id)
	if err != nil {
		return err
	}
	lr.session.Pause()
	return nil
}

// Resume restarts sensor delivery. When the sensors cannot be reacquired
// the run ends as failed and the error is returned.
func (m *Manager) Resume(id string) error {
	lr, err := m.get(id)
	if err != nil {
		return err
	}
	return lr.session.Resume()
}

// Stop ends a live run, persists its summary and path, and returns the
// stored record.
func (m *Manager) Stop(ctx context.Context, id string) (Record, error) {
	lr := m.take(id)
	if lr == nil {
		return Record{}, ErrRunNotLive
	}
	detail := lr.session.Stop()
	<-lr.pumpDone
	return m.finish(ctx, lr, detail)
}

// Ingest feeds a pushed sample to a run whose source is a PushSource.
func (m *Manager) Ingest(id string, sample sensor.Sample) error {
	lr, err := m.get(id)
	if err != nil {
		return err
	}
	push, ok := lr.source.(*sensor.PushSource)
	if !ok {
		return ErrIngestUnsupported
	}
	ev, err := sample.Event()
	if err != nil {
		return err
	}
	return push.Push(ev)
}

// Live reports a live run with its latest snapshot.
func (m *Manager) Live(id string) (Record, error) {
	lr, err := m.get(id)
	if err != nil {
		return Record{}, err
	}
	streamErr := lr.stream.Err()
	rec := Record{
		ID:        lr.id,
		UserID:    lr.userID,
		Status:    statusOf(lr.session.State(), streamErr),
		StartedAt: lr.startedAt,
	}
	if streamErr != nil {
		rec.Failure = streamErr.Error()
	}
	lr.mu.Lock()
	if lr.last != nil {
		snap := *lr.last
		rec.Current = &snap
	}
	lr.mu.Unlock()
	return rec, nil
}

// Shutdown stops every live run so none is left half-recorded.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrRunNotLive) {
			m.logger.Warn("stop run on shutdown", zap.String("run_id", id), zap.Error(err))
		}
	}
}

func (m *Manager) LiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) get(id string) (*liveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lr, ok := m.live[id]
	if !ok {
		return nil, ErrRunNotLive
	}
	return lr, nil
}

// take removes a run from the registry. Whoever takes it finishes it.
func (m *Manager) take(id string) *liveRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	lr := m.live[id]
	delete(m.live, id)
	return lr
}

func (m *Manager) pump(lr *liveRun) {
	for snap := range lr.stream.C() {
		s := snap
		lr.mu.Lock()
		lr.last = &s
		lr.mu.Unlock()
		m.pub.PublishSnapshot(lr.id, snap)
	}

	err := lr.stream.Err()
	if err == nil || m.take(lr.id) != lr {
		close(lr.pumpDone)
		return
	}
	close(lr.pumpDone)

	detail := lr.session.Stop()
	if _, ferr := m.finish(context.Background(), lr, detail); ferr != nil {
		m.logger.Error("persist failed run", zap.String("run_id", lr.id), zap.Error(ferr))
	}
}

func (m *Manager) finish(ctx context.Context, lr *liveRun, detail run.Detail) (Record, error) {
	endedAt := m.now()
	out := Outcome{Status: StatusFinished, EndedAt: endedAt, Summary: detail.Summary}
	if err := lr.stream.Err(); err != nil {
		out.Status = StatusFailed
		out.Failure = err.Error()
	}
	m.pub.PublishEnd(lr.id, out.Status, out.Failure)

	logger := m.logger.With(zap.String("run_id", lr.id))
	logger.Info("run ended",
		zap.String("status", out.Status),
		zap.Float64("distance_m", detail.TotalDistanceMeters),
		zap.Float64("elapsed_sec", detail.ElapsedSeconds),
		zap.Int("steps", detail.TotalSteps),
	)

	rec := Record{
		ID:        lr.id,
		UserID:    lr.userID,
		Status:    out.Status,
		StartedAt: lr.startedAt,
		EndedAt:   &endedAt,
		Summary:   &detail.Summary,
		Failure:   out.Failure,
	}
	if err := m.store.FinishRun(ctx, lr.id, out); err != nil {
		return rec, fmt.Errorf("finish run: %w", err)
	}
	if err := m.store.SavePath(ctx, lr.id, detail.Path); err != nil {
		return rec, fmt.Errorf("save path: %w", err)
	}
	return rec, nil
}
