package session

import (
	"bytes"
	"testing"
)

func TestOutputLogMonotonicSeq(t *testing.T) {
	log := NewOutputLog(nil, 1024, nil, nil)

	chunks := [][]byte{
		[]byte("hello"),
		[]byte(" "),
		[]byte("world"),
	}
	var want uint64
	for _, chunk := range chunks {
		start := log.Append(chunk)
		if start != want {
			t.Fatalf("Append returned start %d, expected %d", start, want)
		}
		want += uint64(len(chunk))
		if got := log.SnapshotSeq(); got != want {
			t.Fatalf("SnapshotSeq = %d after append, expected %d", got, want)
		}
	}
}

func TestOutputLogZeroByteAppendIsNoop(t *testing.T) {
	calls := 0
	log := NewOutputLog(nil, 1024, func(uint64, []byte) { calls++ }, nil)

	log.Append([]byte("abc"))
	before := log.SnapshotSeq()
	log.Append(nil)
	log.Append([]byte{})
	if got := log.SnapshotSeq(); got != before {
		t.Fatalf("seq changed on zero-byte append: %d -> %d", before, got)
	}
	if calls != 1 {
		t.Fatalf("fan-out called %d times, expected 1", calls)
	}
}

func TestOutputLogAppendHookSeesStartSeq(t *testing.T) {
	var starts []uint64
	log := NewOutputLog(nil, 1024, func(start uint64, data []byte) {
		starts = append(starts, start)
	}, nil)

	log.Append([]byte("12345"))
	log.Append([]byte("678"))
	log.Append([]byte("9"))

	want := []uint64{0, 5, 8}
	for i, s := range starts {
		if s != want[i] {
			t.Fatalf("hook start[%d] = %d, expected %d", i, s, want[i])
		}
	}
}

func TestOutputLogTailBounded(t *testing.T) {
	log := NewOutputLog(nil, 8, nil, nil)

	log.Append([]byte("abcdefgh"))
	log.Append([]byte("XY"))
	tail := log.Tail()
	if len(tail) != 8 {
		t.Fatalf("tail length %d, expected 8", len(tail))
	}
	if !bytes.Equal(tail, []byte("cdefghXY")) {
		t.Fatalf("tail = %q, expected %q", tail, "cdefghXY")
	}

	// A single oversized chunk keeps only its suffix.
	log.Append([]byte("0123456789ABCDEF"))
	tail = log.Tail()
	if !bytes.Equal(tail, []byte("89ABCDEF")) {
		t.Fatalf("tail = %q, expected %q", tail, "89ABCDEF")
	}
}

func TestOutputLogWritesThroughToStore(t *testing.T) {
	store, err := OpenHistoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistoryStore: %v", err)
	}
	defer store.Close()

	log := NewOutputLog(store, 1024, nil, nil)
	log.Append([]byte("ABC"))
	log.Append([]byte("DE"))

	got, err := log.ReadRange(0, 4)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if !bytes.Equal(got, []byte("ABCDE")) {
		t.Fatalf("ReadRange = %q, expected ABCDE", got)
	}
}

func TestOutputLogSnapshotSeesCurrentSeq(t *testing.T) {
	log := NewOutputLog(nil, 1024, nil, nil)
	log.Append([]byte("abcd"))

	var seen uint64
	log.Snapshot(func(seq uint64) { seen = seq })
	if seen != 4 {
		t.Fatalf("Snapshot saw seq %d, expected 4", seen)
	}
}
