package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/ternarybob/arbor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), arbor.NewLogger())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestWriteOpenRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Write(ctx, "task-1/guide.pdf", strings.NewReader("document body"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != int64(len("document body")) {
		t.Errorf("Write returned %d bytes", n)
	}

	r, err := store.Open(ctx, "task-1/guide.pdf")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "document body" {
		t.Errorf("read back %q", data)
	}

	info, err := store.Stat(ctx, "task-1/guide.pdf")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != n {
		t.Errorf("Stat size = %d, want %d", info.Size, n)
	}
}

func TestWriteOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Write(ctx, "k", strings.NewReader("first")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Write(ctx, "k", strings.NewReader("second")); err != nil {
		t.Fatal(err)
	}

	r, err := store.Open(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "second" {
		t.Errorf("overwrite produced %q", data)
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "../escape", "a/../../escape", "/abs/path"} {
		if _, err := store.Write(ctx, key, strings.NewReader("x")); err == nil {
			t.Errorf("Write(%q) should fail", key)
		}
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Write(ctx, "t/doc.pdf", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "t/doc.pdf"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Open(ctx, "t/doc.pdf"); err == nil {
		t.Error("Open after Delete should fail")
	}
	// Deleting a missing key is not an error
	if err := store.Delete(ctx, "t/doc.pdf"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}
