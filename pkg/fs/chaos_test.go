package fs

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func Test_Chaos_Passes_Through_When_Mode_Is_NoOp(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 12345, ChaosConfig{
		OpenFailRate:    1.0,
		ReadFailRate:    1.0,
		WriteFailRate:   1.0,
		AtomicWriteRate: 1.0,
	})
	chaosFS.SetMode(ChaosModeNoOp)

	path := filepath.Join(t.TempDir(), "test.txt")

	if err := chaosFS.WriteFileAtomic(path, []byte("hello")); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	got, err := chaosFS.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if got, want := string(got), "hello"; got != want {
		t.Fatalf("ReadFile=%q, want %q", got, want)
	}

	if got, want := chaosFS.Stats().Total(), int64(0); got != want {
		t.Fatalf("faults=%d, want=%d", got, want)
	}
}

func Test_Chaos_Injects_Open_Error_When_Open_Fail_Rate_Is_One(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 1, ChaosConfig{OpenFailRate: 1.0})

	_, err := chaosFS.OpenFile(filepath.Join(t.TempDir(), "x.db"), os.O_RDWR|os.O_CREATE, 0o644)
	if err == nil {
		t.Fatalf("expected error")
	}

	if !IsChaosErr(err) {
		t.Fatalf("err=%v, want injected error", err)
	}

	var errno syscall.Errno
	if !errors.As(err, &errno) {
		t.Fatalf("err=%v does not wrap an errno", err)
	}

	if errors.Is(err, os.ErrNotExist) {
		t.Fatalf("chaos must not inject ENOENT, got %v", err)
	}

	if got, want := chaosFS.Stats().OpenFails, int64(1); got != want {
		t.Fatalf("OpenFails=%d, want=%d", got, want)
	}
}

func Test_Chaos_Passes_Through_Real_NotExist_Errors_When_Path_Is_Missing(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 1, ChaosConfig{})

	_, err := chaosFS.Open(filepath.Join(t.TempDir(), "missing"))
	if got, want := err, os.ErrNotExist; !errors.Is(got, want) {
		t.Fatalf("err=%v, want=%v", got, want)
	}

	if IsChaosErr(err) {
		t.Fatalf("real error reported as injected: %v", err)
	}
}

func Test_ChaosFile_WriteAt_Writes_Prefix_And_Returns_Error_When_Partial_Write_Rate_Is_One(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 7, ChaosConfig{PartialWriteRate: 1.0})
	path := filepath.Join(t.TempDir(), "torn.db")

	f, err := chaosFS.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	data := []byte("0123456789")

	n, err := f.WriteAt(data, 0)
	if err == nil {
		t.Fatalf("expected error")
	}

	if n <= 0 || n >= len(data) {
		t.Fatalf("n=%d, want 0 < n < %d", n, len(data))
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if got, want := string(got), string(data[:n]); got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}
}

func Test_ChaosFile_Sync_Returns_Error_When_Sync_Fail_Rate_Is_One(t *testing.T) {
	t.Parallel()

	chaosFS := NewChaos(NewReal(), 3, ChaosConfig{SyncFailRate: 1.0})

	f, err := chaosFS.OpenFile(filepath.Join(t.TempDir(), "s.db"), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	err = f.Sync()
	if !IsChaosErr(err) {
		t.Fatalf("err=%v, want injected error", err)
	}

	chaosFS.SetMode(ChaosModeNoOp)

	if err := f.Sync(); err != nil {
		t.Fatalf("Sync in no-op mode: %v", err)
	}
}

func Test_NewChaos_Panics_When_FS_Is_Nil(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()

	NewChaos(nil, 1, ChaosConfig{})
}
