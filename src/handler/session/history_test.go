package session

import (
	"bytes"
	"testing"
)

func TestHistoryStoreRangeReads(t *testing.T) {
	store, err := OpenHistoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistoryStore: %v", err)
	}
	defer store.Close()

	if err := store.Append([]byte("0123456789")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	t.Run("ExactRange", func(t *testing.T) {
		got, err := store.ReadRange(2, 5)
		if err != nil {
			t.Fatalf("ReadRange: %v", err)
		}
		if !bytes.Equal(got, []byte("2345")) {
			t.Fatalf("ReadRange(2,5) = %q, expected 2345", got)
		}
	})

	t.Run("EndCappedAtHighWater", func(t *testing.T) {
		got, err := store.ReadRange(5, 1000)
		if err != nil {
			t.Fatalf("ReadRange: %v", err)
		}
		if !bytes.Equal(got, []byte("56789")) {
			t.Fatalf("ReadRange(5,1000) = %q, expected 56789", got)
		}
	})

	t.Run("StartPastEndIsEmpty", func(t *testing.T) {
		got, err := store.ReadRange(10, 20)
		if err != nil {
			t.Fatalf("ReadRange: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("ReadRange past end = %q, expected empty", got)
		}
	})
}

func TestHistoryStoreConcurrentReadWhileAppending(t *testing.T) {
	store, err := OpenHistoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistoryStore: %v", err)
	}
	defer store.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if err := store.Append([]byte("abcdefgh")); err != nil {
				t.Errorf("Append: %v", err)
				return
			}
		}
	}()

	// Readers only ever see bytes at or below the published high-water mark.
	for i := 0; i < 50; i++ {
		size := store.Size()
		if size == 0 {
			continue
		}
		got, err := store.ReadRange(0, size-1)
		if err != nil {
			t.Fatalf("ReadRange during append: %v", err)
		}
		if uint64(len(got)) != size {
			t.Fatalf("read %d bytes for published size %d", len(got), size)
		}
	}
	<-done
}

func TestHistoryStoreStreamRange(t *testing.T) {
	store, err := OpenHistoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistoryStore: %v", err)
	}
	defer store.Close()

	store.Append([]byte("ABCDE"))

	var buf bytes.Buffer
	n, err := store.StreamRange(&buf, 0, 4)
	if err != nil {
		t.Fatalf("StreamRange: %v", err)
	}
	if n != 5 || buf.String() != "ABCDE" {
		t.Fatalf("StreamRange = %d %q, expected 5 ABCDE", n, buf.String())
	}
}

func TestHistoryStoreReadsSurviveClose(t *testing.T) {
	store, err := OpenHistoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistoryStore: %v", err)
	}
	store.Append([]byte("persisted"))
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Replay for retained sessions keeps working after the appender closed.
	got, err := store.ReadRange(0, 8)
	if err != nil {
		t.Fatalf("ReadRange after close: %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("ReadRange after close = %q", got)
	}

	// Appends are rejected.
	if err := store.Append([]byte("x")); err == nil {
		t.Fatal("Append after close should fail")
	}
}
