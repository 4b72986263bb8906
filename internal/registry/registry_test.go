package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/orizon-lang/shmqueue/internal/plat"
)

func TestDir_ScopedByNameAndScope(t *testing.T) {
	t.Setenv("SHMQUEUE_BASE_DIR", "/tmp/shmqueue-test-root")

	got := Dir(plat.ScopeLocal, "orders")
	want := filepath.Join("/tmp/shmqueue-test-root", "local", "orders")

	if got != want {
		t.Fatalf("Dir() = %q, want %q", got, want)
	}
}

func TestWriteReadMetadata_RoundTrips(t *testing.T) {
	dir := t.TempDir()

	meta := Metadata{EngineVersion: "0.1.0", Capacity: 4096, Direction: "outbound"}

	if err := WriteMetadata(dir, meta); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}

	got, err := ReadMetadata(dir)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}

	if got != meta {
		t.Fatalf("ReadMetadata() = %+v, want %+v", got, meta)
	}
}

func TestCheckCompatible(t *testing.T) {
	cases := []struct {
		version string
		wantErr bool
	}{
		{"0.1.0", false},
		{"0.1.9", false},
		{"0.2.0", true},
		{"1.0.0", true},
		{"not-a-version", true},
	}

	for _, c := range cases {
		err := CheckCompatible(Metadata{EngineVersion: c.version})
		if (err != nil) != c.wantErr {
			t.Errorf("CheckCompatible(%q) error = %v, wantErr %v", c.version, err, c.wantErr)
		}
	}
}

func TestWatchPeerCrash_FiresOnceLockReleases(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "_ws")

	peer, err := plat.OpenLock(lockPath)
	if err != nil {
		t.Fatalf("OpenLock: %v", err)
	}

	if ok, st, err := peer.TryAcquire(); err != nil || !ok {
		t.Fatalf("peer TryAcquire: ok=%v st=%v err=%v", ok, st, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := WatchPeerCrash(ctx, lockPath)
	if err != nil {
		t.Fatalf("WatchPeerCrash: %v", err)
	}

	select {
	case <-ch:
		t.Fatal("fired before the peer released its lock")
	case <-time.After(150 * time.Millisecond):
	}

	// Simulate a crash: the OS releases the flock the moment the
	// holder's file descriptor closes, with no unlink involved.
	if err := peer.Close(); err != nil {
		t.Fatalf("peer Close: %v", err)
	}

	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("channel closed without firing")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("did not detect peer crash in time")
	}
}
