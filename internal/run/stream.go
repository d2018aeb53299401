package run

import "sync"

// SnapshotStream is the single-consumer feed of a run. It is forward-only
// and cannot be restarted: a new Start opens a new stream.
//
// The channel returned by C is closed when the run stops or fails; Err then
// reports the failure, if any. A consumer that loses interest calls Close,
// which stops the run the same way Session.Stop does.
type SnapshotStream struct {
	ch        chan Snapshot
	abandoned chan struct{}
	once      sync.Once

	mu     sync.Mutex
	closed bool
	err    error
}

func newSnapshotStream(size int) *SnapshotStream {
	if size < 1 {
		size = 1
	}
	return &SnapshotStream{
		ch:        make(chan Snapshot, size),
		abandoned: make(chan struct{}),
	}
}

func (st *SnapshotStream) C() <-chan Snapshot {
	return st.ch
}

func (st *SnapshotStream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Close abandons the stream. Safe to call more than once.
func (st *SnapshotStream) Close() {
	st.once.Do(func() { close(st.abandoned) })
}

func (st *SnapshotStream) isAbandoned() bool {
	select {
	case <-st.abandoned:
		return true
	default:
		return false
	}
}

// push never blocks. When the buffer is full the oldest snapshot is dropped
// so a slow consumer always sees the most recent readings. It reports false
// once the stream is finished or abandoned.
func (st *SnapshotStream) push(s Snapshot) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed || st.isAbandoned() {
		return false
	}
	select {
	case st.ch <- s:
		return true
	default:
	}
	select {
	case <-st.ch:
	default:
	}
	select {
	case st.ch <- s:
	default:
	}
	return true
}

func (st *SnapshotStream) finish(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	st.closed = true
	st.err = err
	close(st.ch)
}
