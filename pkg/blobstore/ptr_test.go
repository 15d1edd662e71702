package blobstore_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/fsdb/pkg/blobstore"
)

func Test_CapacityFor_Returns_Geometric_Bucket_When_Length_Is_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		length int
		min    int
		want   uint32
	}{
		{length: 0, min: 100, want: 100},
		{length: 99, min: 100, want: 100},
		{length: 100, min: 100, want: 200},
		{length: 150, min: 100, want: 200},
		{length: 190, min: 100, want: 200},
		{length: 199, min: 100, want: 200},
		{length: 200, min: 100, want: 400},
		{length: 210, min: 100, want: 400},
		{length: 399, min: 100, want: 400},
		{length: 400, min: 100, want: 800},
		{length: 5, min: 1, want: 8},
		{length: 7, min: 1, want: 8},
		{length: 8, min: 1, want: 16},
	}

	for _, tt := range tests {
		got, err := blobstore.CapacityFor(tt.length, tt.min)
		if err != nil {
			t.Fatalf("CapacityFor(%d, %d): %v", tt.length, tt.min, err)
		}

		if got != tt.want {
			t.Fatalf("CapacityFor(%d, %d)=%d, want=%d", tt.length, tt.min, got, tt.want)
		}

		if int(got) <= tt.length {
			t.Fatalf("CapacityFor(%d, %d)=%d does not exceed length", tt.length, tt.min, got)
		}
	}
}

func Test_CapacityFor_Is_Monotone_When_Length_Grows(t *testing.T) {
	t.Parallel()

	prev := uint32(0)

	for length := range 5000 {
		got, err := blobstore.CapacityFor(length, 100)
		if err != nil {
			t.Fatalf("CapacityFor(%d): %v", length, err)
		}

		if got < prev {
			t.Fatalf("CapacityFor(%d)=%d < CapacityFor(%d)=%d", length, got, length-1, prev)
		}

		prev = got
	}
}

func Test_CapacityFor_Returns_Error_When_Input_Is_Out_Of_Range(t *testing.T) {
	t.Parallel()

	if _, err := blobstore.CapacityFor(-1, 100); !errors.Is(err, blobstore.ErrInvalidInput) {
		t.Fatalf("negative length: err=%v, want=%v", err, blobstore.ErrInvalidInput)
	}

	if _, err := blobstore.CapacityFor(10, 0); !errors.Is(err, blobstore.ErrInvalidInput) {
		t.Fatalf("zero min: err=%v, want=%v", err, blobstore.ErrInvalidInput)
	}

	if _, err := blobstore.CapacityFor(1<<31-1, 100); !errors.Is(err, blobstore.ErrTooLarge) {
		t.Fatalf("2 GiB: err=%v, want=%v", err, blobstore.ErrTooLarge)
	}
}

func Test_Ptr_AppendBinary_Writes_Little_Endian_Layout(t *testing.T) {
	t.Parallel()

	p := blobstore.Ptr{Capacity: 0x01020304, FileID: 0x0506, Position: 0x0708090a0b0c0d0e}

	got, err := p.AppendBinary(nil)
	if err != nil {
		t.Fatalf("AppendBinary: %v", err)
	}

	want := []byte{
		0x04, 0x03, 0x02, 0x01,
		0x06, 0x05,
		0x0e, 0x0d, 0x0c, 0x0b, 0x0a, 0x09, 0x08, 0x07,
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("encoding mismatch (-want +got):\n%s", diff)
	}

	back, err := blobstore.DecodePtr(got)
	if err != nil {
		t.Fatalf("DecodePtr: %v", err)
	}

	if back != p {
		t.Fatalf("DecodePtr=%v, want=%v", back, p)
	}
}

func Test_DecodePtr_Returns_ErrInvalidPointer_When_Bytes_Are_Malformed(t *testing.T) {
	t.Parallel()

	if _, err := blobstore.DecodePtr(make([]byte, blobstore.PtrSize-1)); !errors.Is(err, blobstore.ErrInvalidPointer) {
		t.Fatalf("short: err=%v, want=%v", err, blobstore.ErrInvalidPointer)
	}

	bad, _ := blobstore.Ptr{Capacity: 1 << 31}.AppendBinary(nil)
	if _, err := blobstore.DecodePtr(bad); !errors.Is(err, blobstore.ErrInvalidPointer) {
		t.Fatalf("capacity overflow: err=%v, want=%v", err, blobstore.ErrInvalidPointer)
	}
}

func Test_Ptr_IsZero_Reports_Only_The_Zero_Value(t *testing.T) {
	t.Parallel()

	if !(blobstore.Ptr{}).IsZero() {
		t.Fatalf("zero Ptr not reported as zero")
	}

	if (blobstore.Ptr{Capacity: 100}).IsZero() {
		t.Fatalf("first slot of file 0 reported as zero")
	}
}
