package tracking

import (
	"context"
	"sync"
	"time"

	"backend-runhub/internal/run"
)

type memStore struct {
	mu        sync.Mutex
	records   map[string]Record
	paths     map[string][]run.PathPoint
	createErr error
	finishErr error
	finished  chan string
}

func newMemStore() *memStore {
	return &memStore{
		records:  map[string]Record{},
		paths:    map[string][]run.PathPoint{},
		finished: make(chan string, 16),
	}
}

func (s *memStore) CreateRun(_ context.Context, id, userID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.records[id] = Record{ID: id, UserID: userID, Status: StatusActive, StartedAt: startedAt}
	return nil
}

func (s *memStore) FinishRun(_ context.Context, id string, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.finished <- id }()
	if s.finishErr != nil {
		return s.finishErr
	}
	rec, ok := s.records[id]
	if !ok {
		return ErrRunNotFound
	}
	ended := out.EndedAt
	summary := out.Summary
	rec.Status = out.Status
	rec.EndedAt = &ended
	rec.Summary = &summary
	rec.Failure = out.Failure
	s.records[id] = rec
	return nil
}

func (s *memStore) SavePath(_ context.Context, id string, path []run.PathPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[id] = path
	return nil
}

func (s *memStore) GetRun(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrRunNotFound
	}
	return rec, nil
}

func (s *memStore) Path(_ context.Context, id string) ([]run.PathPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[id], nil
}

type published struct {
	runID  string
	kind   string
	snap   run.Snapshot
	status string
	errMsg string
}

type fakePublisher struct {
	ch chan published
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{ch: make(chan published, 256)}
}

func (p *fakePublisher) PublishSnapshot(runID string, snap run.Snapshot) {
	p.ch <- published{runID: runID, kind: "snapshot", snap: snap}
}

func (p *fakePublisher) PublishEnd(runID, status, errMsg string) {
	p.ch <- published{runID: runID, kind: "end", status: status, errMsg: errMsg}
}

// failingSource starts once and can then be made to fail.
type failingSource struct {
	mu       sync.Mutex
	ch       chan run.SensorEvent
	startErr error
}

func (f *failingSource) Start(context.Context) (<-chan run.SensorEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.ch = make(chan run.SensorEvent, 4)
	return f.ch, nil
}

func (f *failingSource) Stop() {}

func (f *failingSource) fail(err error) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- run.SensorEvent{Err: err}
}
