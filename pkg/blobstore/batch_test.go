package blobstore_test

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/fsdb/pkg/blobstore"
)

func collect(t *testing.T, st *blobstore.Store, ptrs []blobstore.Ptr, maxBatchBytes int64) ([]blobstore.Ptr, map[blobstore.Ptr][]byte) {
	t.Helper()

	seq, errFn := st.BatchLoad(ptrs, maxBatchBytes)

	var order []blobstore.Ptr

	got := map[blobstore.Ptr][]byte{}

	for p, data := range seq {
		order = append(order, p)
		got[p] = data
	}

	if err := errFn(); err != nil {
		t.Fatalf("BatchLoad: %v", err)
	}

	return order, got
}

func Test_Store_BatchSave_Returns_Pointers_In_Input_Order(t *testing.T) {
	t.Parallel()

	st := openStore(t, blobstore.Options{})

	existing := mustSave(t, st, payload(150, 'e'), blobstore.Ptr{})

	items := []blobstore.SaveItem{
		{Data: payload(10, 'a')},
		{Prev: existing, Data: payload(190, 'b')},
		{Data: payload(500, 'c')},
		{Prev: existing, Data: payload(300, 'd')},
	}

	ptrs, err := st.BatchSave(items)
	if err != nil {
		t.Fatalf("BatchSave: %v", err)
	}

	if got, want := len(ptrs), len(items); got != want {
		t.Fatalf("len=%d, want=%d", got, want)
	}

	if ptrs[1] != existing {
		t.Fatalf("fitting item moved: %v -> %v", existing, ptrs[1])
	}

	if ptrs[3] == existing {
		t.Fatalf("non-fitting item reused slot %v", existing)
	}

	for i, it := range items {
		if diff := cmp.Diff(it.Data, mustLoad(t, st, ptrs[i])); diff != "" {
			t.Fatalf("item %d (-want +got):\n%s", i, diff)
		}
	}
}

func Test_Store_BatchSave_Keeps_Last_Write_When_Items_Share_A_Slot(t *testing.T) {
	t.Parallel()

	st := openStore(t, blobstore.Options{})
	p := mustSave(t, st, payload(50, 'x'), blobstore.Ptr{})

	ptrs, err := st.BatchSave([]blobstore.SaveItem{
		{Prev: p, Data: payload(40, '1')},
		{Prev: p, Data: payload(60, '2')},
		{Prev: p, Data: payload(70, '3')},
	})
	if err != nil {
		t.Fatalf("BatchSave: %v", err)
	}

	if diff := cmp.Diff([]blobstore.Ptr{p, p, p}, ptrs); diff != "" {
		t.Fatalf("pointers (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(payload(70, '3'), mustLoad(t, st, p)); diff != "" {
		t.Fatalf("slot content (-want +got):\n%s", diff)
	}
}

func Test_Store_BatchSave_Places_Records_Like_Sequential_Saves_When_Rolling_Over(t *testing.T) {
	t.Parallel()

	opts := blobstore.Options{Prefix: "data", MaxFileLength: 300}

	items := make([]blobstore.SaveItem, 10)
	for i := range items {
		items[i] = blobstore.SaveItem{Data: payload(10+i, byte('a'+i))}
	}

	seqOpts := opts
	seqOpts.Dir = t.TempDir()
	seqStore := openStore(t, seqOpts)

	var want []blobstore.Ptr
	for _, it := range items {
		want = append(want, mustSave(t, seqStore, it.Data, blobstore.Ptr{}))
	}

	batchOpts := opts
	batchOpts.Dir = t.TempDir()
	batchStore := openStore(t, batchOpts)

	got, err := batchStore.BatchSave(items)
	if err != nil {
		t.Fatalf("BatchSave: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pointers (-sequential +batch):\n%s", diff)
	}

	if got, want := batchStore.Stats(), seqStore.Stats(); got != want {
		t.Fatalf("Stats=%+v, want=%+v", got, want)
	}
}

func Test_Store_BatchSave_Writes_Nothing_When_An_Item_Is_Invalid(t *testing.T) {
	t.Parallel()

	st := openStore(t, blobstore.Options{})

	_, err := st.BatchSave([]blobstore.SaveItem{
		{Data: []byte("ok")},
		{Prev: blobstore.Ptr{Capacity: 100, FileID: 9}, Data: []byte("bad")},
	})
	if !errors.Is(err, blobstore.ErrInvalidPointer) {
		t.Fatalf("err=%v, want=%v", err, blobstore.ErrInvalidPointer)
	}

	if got, want := st.Stats().Bytes, int64(0); got != want {
		t.Fatalf("bytes=%d, want=%d", got, want)
	}
}

func Test_Store_BatchLoad_Yields_Every_Pointer_In_File_And_Position_Order(t *testing.T) {
	t.Parallel()

	st := openStore(t, blobstore.Options{MaxFileLength: 1000})

	want := map[blobstore.Ptr][]byte{}

	var ptrs []blobstore.Ptr

	for i := range 30 {
		data := payload(i*7, byte(i))
		p := mustSave(t, st, data, blobstore.Ptr{})
		want[p] = data
		ptrs = append(ptrs, p)
	}

	slices.Reverse(ptrs)

	for _, maxBytes := range []int64{1, 256, 1000, 1 << 20} {
		order, got := collect(t, st, ptrs, maxBytes)

		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("maxBytes=%d: records (-want +got):\n%s", maxBytes, diff)
		}

		if !slices.IsSortedFunc(order, func(a, b blobstore.Ptr) int {
			if a.FileID != b.FileID {
				return int(a.FileID) - int(b.FileID)
			}

			return int(a.Position) - int(b.Position)
		}) {
			t.Fatalf("maxBytes=%d: order not sorted: %v", maxBytes, order)
		}
	}
}

func Test_Store_BatchLoad_Yields_Nil_When_Record_Is_Corrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	opts := blobstore.Options{Dir: dir, Prefix: "data"}

	st, err := blobstore.Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	good := mustSave(t, st, []byte("good"), blobstore.Ptr{})
	bad := mustSave(t, st, []byte("bad"), blobstore.Ptr{})
	tail := mustSave(t, st, []byte("tail"), blobstore.Ptr{})

	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	flipByte(t, filepath.Join(dir, "data_0000.db"), int64(bad.Position)+5)

	st = openStore(t, opts)

	_, got := collect(t, st, []blobstore.Ptr{tail, bad, good}, 1<<20)

	want := map[blobstore.Ptr][]byte{
		good: []byte("good"),
		bad:  nil,
		tail: []byte("tail"),
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records (-want +got):\n%s", diff)
	}
}

func Test_Store_BatchLoad_Stops_When_Consumer_Breaks(t *testing.T) {
	t.Parallel()

	st := openStore(t, blobstore.Options{})

	var ptrs []blobstore.Ptr
	for range 5 {
		ptrs = append(ptrs, mustSave(t, st, []byte("v"), blobstore.Ptr{}))
	}

	seq, errFn := st.BatchLoad(ptrs, 1<<20)

	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}

	if err := errFn(); err != nil {
		t.Fatalf("err=%v", err)
	}

	if got, want := n, 2; got != want {
		t.Fatalf("yielded=%d, want=%d", got, want)
	}
}

func Test_Store_BatchLoad_Returns_Error_When_Input_Is_Invalid(t *testing.T) {
	t.Parallel()

	st := openStore(t, blobstore.Options{})
	p := mustSave(t, st, []byte("v"), blobstore.Ptr{})

	seq, errFn := st.BatchLoad([]blobstore.Ptr{p}, 0)
	for range seq {
		t.Fatalf("yielded with maxBatchBytes=0")
	}

	if !errors.Is(errFn(), blobstore.ErrInvalidInput) {
		t.Fatalf("err=%v, want=%v", errFn(), blobstore.ErrInvalidInput)
	}

	seq, errFn = st.BatchLoad([]blobstore.Ptr{p, {Capacity: 100, FileID: 4}}, 1<<20)
	for range seq {
		t.Fatalf("yielded with foreign pointer")
	}

	if !errors.Is(errFn(), blobstore.ErrInvalidPointer) {
		t.Fatalf("err=%v, want=%v", errFn(), blobstore.ErrInvalidPointer)
	}
}
