package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"parcmarket/internal/domain"
)

func TestSnapshot_FlagsRoundTrip(t *testing.T) {
	snap, err := NewSnapshot(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot init failed: %v", err)
	}

	want := []uint{3, 14, 159}
	if err := snap.SaveFlags(want); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := snap.LoadFlags()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d flags, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("flag[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSnapshot_MissingFilesAreEmpty(t *testing.T) {
	snap, err := NewSnapshot(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot init failed: %v", err)
	}

	flags, err := snap.LoadFlags()
	if err != nil {
		t.Fatalf("load flags errored on missing file: %v", err)
	}
	if len(flags) != 0 {
		t.Errorf("missing flag file yielded %v", flags)
	}

	_, ok, err := snap.LoadState()
	if err != nil {
		t.Fatalf("load state errored on missing file: %v", err)
	}
	if ok {
		t.Error("missing state file reported ok")
	}
}

func TestSnapshot_StateRoundTrip(t *testing.T) {
	snap, err := NewSnapshot(t.TempDir())
	if err != nil {
		t.Fatalf("snapshot init failed: %v", err)
	}

	want := domain.NewPriceBand(42.5)
	if err := snap.SaveState(want, time.Now()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := snap.LoadState()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !ok {
		t.Fatal("saved state not found")
	}
	if got != want {
		t.Fatalf("loaded band %+v, want %+v", got, want)
	}
}

func TestSnapshot_OverwriteKeepsLatest(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSnapshot(dir)
	if err != nil {
		t.Fatalf("snapshot init failed: %v", err)
	}

	for _, price := range []float64{1.0, 2.0, 3.0} {
		if err := snap.SaveState(domain.NewPriceBand(price), time.Now()); err != nil {
			t.Fatalf("save %v failed: %v", price, err)
		}
	}

	got, ok, err := snap.LoadState()
	if err != nil || !ok {
		t.Fatalf("load failed: %v ok=%v", err, ok)
	}
	if got.Base != 3.0 {
		t.Errorf("loaded base = %v, want latest 3.0", got.Base)
	}

	// The temp file must not linger after a successful rename.
	if _, err := os.Stat(filepath.Join(dir, stateFile+".tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestSnapshot_FailedReplaceKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSnapshot(dir)
	if err != nil {
		t.Fatalf("snapshot init failed: %v", err)
	}

	want := domain.NewPriceBand(7.5)
	if err := snap.SaveState(want, time.Now()); err != nil {
		t.Fatalf("initial save failed: %v", err)
	}

	// Squat the temp path with a directory so the next temp write fails.
	blocker := filepath.Join(dir, stateFile+".tmp")
	if err := os.Mkdir(blocker, 0755); err != nil {
		t.Fatalf("failed to block temp path: %v", err)
	}

	if err := snap.SaveState(domain.NewPriceBand(9.9), time.Now()); err == nil {
		t.Fatal("save with blocked temp path should fail")
	}

	got, ok, err := snap.LoadState()
	if err != nil || !ok {
		t.Fatalf("load after failed save: %v ok=%v", err, ok)
	}
	if got != want {
		t.Fatalf("state after failed save = %+v, want previous %+v", got, want)
	}

	// Once the path is clear again, saves resume.
	if err := os.Remove(blocker); err != nil {
		t.Fatalf("failed to unblock temp path: %v", err)
	}
	next := domain.NewPriceBand(9.9)
	if err := snap.SaveState(next, time.Now()); err != nil {
		t.Fatalf("save after unblocking failed: %v", err)
	}
	got, ok, err = snap.LoadState()
	if err != nil || !ok || got != next {
		t.Fatalf("state after recovery = %+v ok=%v err=%v, want %+v", got, ok, err, next)
	}
}

func TestSnapshot_MalformedFlagEntriesSkipped(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSnapshot(dir)
	if err != nil {
		t.Fatalf("snapshot init failed: %v", err)
	}

	raw := []byte(`{"transactions": ["12", "not-a-number", "34"]}`)
	if err := os.WriteFile(filepath.Join(dir, flagsFile), raw, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	flags, err := snap.LoadFlags()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(flags) != 2 || flags[0] != 12 || flags[1] != 34 {
		t.Errorf("loaded flags = %v, want [12 34]", flags)
	}
}

func TestSnapshot_ZeroPriceStateIgnored(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSnapshot(dir)
	if err != nil {
		t.Fatalf("snapshot init failed: %v", err)
	}

	raw := []byte(`{"base_price": 0, "min_price": 0, "max_price": 0}`)
	if err := os.WriteFile(filepath.Join(dir, stateFile), raw, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, ok, err := snap.LoadState()
	if err != nil {
		t.Fatalf("load errored: %v", err)
	}
	if ok {
		t.Error("zero-price snapshot should not seed the engine")
	}
}
