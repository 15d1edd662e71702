package fs

import (
	"errors"
	"path/filepath"
	"testing"
)

func Test_Locker_TryLock_Returns_ErrWouldBlock_When_Lock_Is_Held(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "store.db.lock")

	held, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("first TryLock: %v", err)
	}
	defer held.Close()

	_, err = locker.TryLock(path)
	if got, want := err, ErrWouldBlock; !errors.Is(got, want) {
		t.Fatalf("err=%v, want=%v", got, want)
	}
}

func Test_Locker_TryLock_Succeeds_When_Previous_Lock_Was_Released(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewReal())
	path := filepath.Join(t.TempDir(), "store.db.lock")

	first, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("first TryLock: %v", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := locker.TryLock(path)
	if err != nil {
		t.Fatalf("second TryLock: %v", err)
	}

	if err := second.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func Test_Locker_Lock_Creates_Parent_Directories_When_Missing(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	locker := NewLocker(fsys)
	path := filepath.Join(t.TempDir(), "a", "b", "store.pidx.lock")

	lk, err := locker.Lock(path)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer lk.Close()

	exists, err := fsys.Exists(path)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}

	if !exists {
		t.Fatalf("lock file %s was not created", path)
	}
}

func Test_Lock_Close_Is_Idempotent_When_Called_Twice(t *testing.T) {
	t.Parallel()

	lk, err := NewLocker(NewReal()).Lock(filepath.Join(t.TempDir(), "x.lock"))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	if err := lk.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	if err := lk.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	var nilLock *Lock
	if err := nilLock.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
