package session

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// OutputLog is the per-session append-only byte log. It owns the monotonic
// seq counter (total bytes since session creation), writes through to the
// durable HistoryStore, and keeps a bounded in-memory tail for introspection.
//
// The append hook runs under the same lock that advances seq, and attach
// snapshots take that lock too. That single critical section is what makes
// the history marker exact: no append can slip between a marker read and the
// attachment becoming visible to the fan-out.
type OutputLog struct {
	mu   sync.Mutex
	seq  uint64
	tail []byte

	tailMax int
	store   *HistoryStore

	// onAppend is the broadcaster hook; it must never block (fan-out is
	// drop-on-full by design).
	onAppend func(startSeq uint64, data []byte)

	// Durable failures: first is logged and surfaced, second makes the log
	// report unhealthy so the session can terminate rather than silently
	// diverge.
	durableFailures int
	onUnhealthy     func(err error)
}

// NewOutputLog builds a log writing through to store. store may be nil when
// the session was created with save_history disabled.
func NewOutputLog(store *HistoryStore, tailMax int, onAppend func(uint64, []byte), onUnhealthy func(error)) *OutputLog {
	return &OutputLog{
		tailMax:     tailMax,
		store:       store,
		onAppend:    onAppend,
		onUnhealthy: onUnhealthy,
	}
}

// Append advances seq by len(data), persists best-effort, and hands the chunk
// to the fan-out. Returns the seq the chunk starts at. Appending zero bytes
// is a no-op.
func (l *OutputLog) Append(data []byte) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.seq
	if len(data) == 0 {
		return start
	}
	l.seq += uint64(len(data))
	l.appendTail(data)

	if l.store != nil {
		if err := l.store.Append(data); err != nil {
			l.durableFailures++
			logrus.WithError(err).Warnf("durable output log write failed (failure %d)", l.durableFailures)
			if l.durableFailures > 1 && l.onUnhealthy != nil {
				// Second failure: give up rather than let the durable log
				// diverge from seq.
				go l.onUnhealthy(err)
				l.store = nil
			}
		}
	}

	if l.onAppend != nil {
		l.onAppend(start, data)
	}
	return start
}

// SnapshotSeq returns the current seq.
func (l *OutputLog) SnapshotSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Snapshot runs fn with the current seq while holding the append lock. The
// attach path uses this to sample its history marker and register the
// attachment atomically with respect to appends.
func (l *OutputLog) Snapshot(fn func(seq uint64)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.seq)
}

// Tail returns a copy of the bounded in-memory tail. Operational only; replay
// correctness always goes through ReadRange.
func (l *OutputLog) Tail() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]byte, len(l.tail))
	copy(out, l.tail)
	return out
}

// ReadRange serves bytes [start, end] (inclusive) from the durable store.
func (l *OutputLog) ReadRange(start, end uint64) ([]byte, error) {
	l.mu.Lock()
	store := l.store
	l.mu.Unlock()
	if store == nil {
		return nil, nil
	}
	return store.ReadRange(start, end)
}

func (l *OutputLog) appendTail(data []byte) {
	if l.tailMax <= 0 {
		return
	}
	if len(data) >= l.tailMax {
		l.tail = append(l.tail[:0], data[len(data)-l.tailMax:]...)
		return
	}
	l.tail = append(l.tail, data...)
	if len(l.tail) > l.tailMax {
		l.tail = l.tail[len(l.tail)-l.tailMax:]
	}
}
