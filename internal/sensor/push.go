package sensor

import (
	"context"
	"errors"
	"sync"

	"backend-runhub/internal/run"
)

var (
	ErrNotStarted   = errors.New("sensor source not started")
	ErrBackpressure = errors.New("sensor buffer full")
)

// PushSource is fed in-process, typically by the HTTP ingestion endpoint.
type PushSource struct {
	size int

	mu            sync.Mutex
	ch            chan run.SensorEvent
	subscriptions int
}

func NewPushSource(size int) *PushSource {
	if size < 1 {
		size = 1
	}
	return &PushSource{size: size}
}

func (p *PushSource) Start(context.Context) (<-chan run.SensorEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		close(p.ch)
	}
	p.ch = make(chan run.SensorEvent, p.size)
	p.subscriptions++
	return p.ch, nil
}

func (p *PushSource) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		close(p.ch)
		p.ch = nil
	}
}

// Push never blocks; it fails when no subscription is open or the buffer
// is full.
func (p *PushSource) Push(ev run.SensorEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return ErrNotStarted
	}
	select {
	case p.ch <- ev:
		return nil
	default:
		return ErrBackpressure
	}
}

// Subscriptions reports how many times Start has been called.
func (p *PushSource) Subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscriptions
}
