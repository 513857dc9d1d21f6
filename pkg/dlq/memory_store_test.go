package dlq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func seedEntries(t *testing.T, store *MemoryStore, count int, queue string, base time.Time) []string {
	t.Helper()
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%s-entry-%d", queue, i)
		err := store.Put(context.Background(), &Entry{
			ID:            id,
			OriginQueue:   queue,
			OriginalJobID: fmt.Sprintf("job-%d", i),
			Kind:          "document.transmit",
			Error:         "timeout",
			FailedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	ids := seedEntries(t, store, 5, "transmission", base)

	entries, err := store.List(context.Background(), ListOptions{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != ids[4] || entries[2].ID != ids[2] {
		t.Fatalf("unexpected order: %s, %s, %s", entries[0].ID, entries[1].ID, entries[2].ID)
	}
}

func TestMemoryStoreListOffsetAndFilter(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	seedEntries(t, store, 3, "transmission", base)
	seedEntries(t, store, 2, "notification", base)

	entries, err := store.List(context.Background(), ListOptions{OriginQueue: "notification"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 notification entries, got %d", len(entries))
	}

	paged, err := store.List(context.Background(), ListOptions{OriginQueue: "transmission", Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paged) != 1 {
		t.Fatalf("expected 1 entry after offset, got %d", len(paged))
	}
}

func TestMemoryStoreEntriesAreImmutable(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now().UTC()
	ids := seedEntries(t, store, 1, "transmission", base)

	first, err := store.Get(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first.Error = "mutated"
	first.PayloadSnapshot = []byte("mutated")

	second, err := store.Get(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if second.Error != "timeout" {
		t.Fatal("stored entry mutated through returned copy")
	}
}

func TestMemoryStorePurgeCutoff(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	seedEntries(t, store, 4, "transmission", base)

	removed, err := store.Purge(context.Background(), base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 purged, got %d", removed)
	}
	count, _ := store.Count(context.Background(), "")
	if count != 2 {
		t.Fatalf("expected 2 remaining, got %d", count)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := store.List(context.Background(), ListOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
