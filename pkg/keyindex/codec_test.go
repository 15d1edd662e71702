package keyindex_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/calvinalkan/fsdb/pkg/keyindex"
)

func Test_Int32Keys_Encodes_Four_Little_Endian_Bytes(t *testing.T) {
	t.Parallel()

	got, err := keyindex.Int32Keys.AppendKey(nil, -2)
	if err != nil {
		t.Fatalf("AppendKey: %v", err)
	}

	if diff := cmp.Diff([]byte{0xfe, 0xff, 0xff, 0xff}, got); diff != "" {
		t.Fatalf("encoding (-want +got):\n%s", diff)
	}

	k, err := keyindex.Int32Keys.DecodeKey(got)
	if err != nil || k != -2 {
		t.Fatalf("DecodeKey=(%d, %v), want (-2, nil)", k, err)
	}

	if _, err := keyindex.Int32Keys.DecodeKey(got[:3]); err == nil {
		t.Fatalf("DecodeKey(3 bytes): want error")
	}
}

func Test_Int64Keys_Decodes_What_It_Encodes(t *testing.T) {
	t.Parallel()

	for _, k := range []int64{0, 1, -1, 1 << 40} {
		b, err := keyindex.Int64Keys.AppendKey(nil, k)
		if err != nil {
			t.Fatalf("AppendKey(%d): %v", k, err)
		}

		got, err := keyindex.Int64Keys.DecodeKey(b)
		if err != nil || got != k {
			t.Fatalf("DecodeKey=(%d, %v), want (%d, nil)", got, err, k)
		}
	}
}

func Test_UUIDKeys_Rejects_Keys_That_Are_Not_Sixteen_Bytes(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	b, err := keyindex.UUIDKeys.AppendKey(nil, id)
	if err != nil {
		t.Fatalf("AppendKey: %v", err)
	}

	got, err := keyindex.UUIDKeys.DecodeKey(b)
	if err != nil || got != id {
		t.Fatalf("DecodeKey=(%v, %v), want (%v, nil)", got, err, id)
	}

	if _, err := keyindex.UUIDKeys.DecodeKey(b[:15]); err == nil {
		t.Fatalf("DecodeKey(15 bytes): want error")
	}
}

func Test_Index_Works_With_Int32_Keys_When_Reopened(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	opts := keyindex.Options[int32, offPtr]{Dir: dir, Prefix: "ints"}

	idx, err := keyindex.Open(opts, keyindex.Int32Keys, decodeOffPtr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for i := range int32(10) {
		if err := idx.Set(i, offPtr{uint64(i) * 10}); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}

	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = keyindex.Open(opts, keyindex.Int32Keys, decodeOffPtr)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	p, ok := idx.Get(7)
	if !ok || p.Off != 70 {
		t.Fatalf("Get(7)=(%v, %v), want ({70}, true)", p, ok)
	}
}
