package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// HistoryStore is the durable per-session byte log. One append-only file,
// one appender, any number of concurrent range readers. The byte offsets in
// the file ARE the protocol's seq values.
type HistoryStore struct {
	path string

	mu        sync.Mutex
	f         *os.File
	closed    bool
	highWater atomic.Uint64
}

// OpenHistoryStore creates (or truncates) <dir>/output.log. Sessions are not
// resumed across restarts, so a fresh store always starts at offset zero.
func OpenHistoryStore(dir string) (*HistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}
	path := filepath.Join(dir, "output.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output log: %w", err)
	}
	return &HistoryStore{path: path, f: f}, nil
}

// Append writes data at the end of the log. The high-water mark is published
// only after the bytes are fully written, so readers never observe a partial
// append.
func (h *HistoryStore) Append(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrDurableLogFailed.WithMessage("output log already closed")
	}
	if _, err := h.f.Write(data); err != nil {
		return ErrDurableLogFailed.WithMessage("output log append: %v", err)
	}
	h.highWater.Add(uint64(len(data)))
	return nil
}

// Size returns the number of durably written bytes.
func (h *HistoryStore) Size() uint64 {
	return h.highWater.Load()
}

// ReadRange returns bytes [start, end] (inclusive). end is capped at the
// current high-water mark; a start past the end of the log yields an empty
// result. Reads go through an independent descriptor so they never disturb
// the appender.
func (h *HistoryStore) ReadRange(start, end uint64) ([]byte, error) {
	hw := h.highWater.Load()
	if hw == 0 || start >= hw {
		return nil, nil
	}
	if end >= hw {
		end = hw - 1
	}
	if end < start {
		return nil, nil
	}

	buf := make([]byte, end-start+1)
	r, err := os.Open(h.path)
	if err != nil {
		return nil, ErrHistoryReadFailed.WithMessage("open history: %v", err)
	}
	defer r.Close()
	if _, err := io.ReadFull(io.NewSectionReader(r, int64(start), int64(len(buf))), buf); err != nil {
		return nil, ErrHistoryReadFailed.WithMessage("read history [%d,%d]: %v", start, end, err)
	}
	return buf, nil
}

// StreamRange copies bytes [start, end] (inclusive, capped at the high-water
// mark) to w and returns the byte count. Used by the HTTP range endpoint so
// large histories never materialize in memory.
func (h *HistoryStore) StreamRange(w io.Writer, start, end uint64) (int64, error) {
	hw := h.highWater.Load()
	if hw == 0 || start >= hw {
		return 0, nil
	}
	if end >= hw {
		end = hw - 1
	}
	if end < start {
		return 0, nil
	}

	r, err := os.Open(h.path)
	if err != nil {
		return 0, ErrHistoryReadFailed.WithMessage("open history: %v", err)
	}
	defer r.Close()
	n, err := io.Copy(w, io.NewSectionReader(r, int64(start), int64(end-start+1)))
	if err != nil {
		return n, ErrHistoryReadFailed.WithMessage("stream history [%d,%d]: %v", start, end, err)
	}
	return n, nil
}

// Close fsyncs and closes the log. Range reads keep working after close; only
// appends stop.
func (h *HistoryStore) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.f.Sync(); err != nil {
		_ = h.f.Close()
		return fmt.Errorf("output log sync: %w", err)
	}
	return h.f.Close()
}
