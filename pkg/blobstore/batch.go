package blobstore

import (
	"cmp"
	"fmt"
	"iter"
	"maps"
	"slices"
)

// SaveItem is one input of [Store.BatchSave]. A zero Prev means the item
// has no previous slot.
type SaveItem struct {
	Prev Ptr
	Data []byte
}

type pending struct {
	idx      int
	capacity uint32
}

// BatchSave saves every item and returns one pointer per item, in input
// order.
//
// Disk writes do not follow input order. Items whose data fits their Prev
// slot are rewritten in place first, file by file in ascending position
// order; the rest are appended to the last data file in runs of contiguous
// slots, rolling over to a new file when the size cap is passed mid-batch.
// When two items share a Prev slot the later one wins.
//
// All pointers and sizes are validated before anything is written. An I/O
// error stops the batch; items already written stay written.
func (s *Store) BatchSave(items []SaveItem) ([]Ptr, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	out := make([]Ptr, len(items))
	caps := make([]uint32, len(items))
	inPlace := make(map[uint16][]int)

	var appends []pending

	for i, it := range items {
		capacity, err := CapacityFor(len(it.Data), s.opts.MinRecordLen)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}

		caps[i] = capacity

		if !it.Prev.IsZero() {
			_, err := s.fileFor(it.Prev)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}

			if len(it.Data) <= int(it.Prev.Capacity) {
				inPlace[it.Prev.FileID] = append(inPlace[it.Prev.FileID], i)

				continue
			}
		}

		appends = append(appends, pending{idx: i, capacity: capacity})
	}

	for _, id := range slices.Sorted(maps.Keys(inPlace)) {
		idxs := inPlace[id]
		slices.SortStableFunc(idxs, func(a, b int) int {
			return cmp.Compare(items[a].Prev.Position, items[b].Prev.Position)
		})

		for _, i := range idxs {
			f, err := s.fileFor(items[i].Prev)
			if err != nil {
				return nil, err
			}

			ok, err := s.writeInPlace(f, items[i].Prev, items[i].Data)
			if err != nil {
				return nil, err
			}

			if !ok {
				appends = append(appends, pending{idx: i, capacity: caps[i]})

				continue
			}

			out[i] = items[i].Prev
		}
	}

	err := s.appendBatch(items, appends, out)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// appendBatch appends the pending items and stores their pointers in out.
// Consecutive items go out in one write per data file, capped at
// maxIOChunk.
func (s *Store) appendBatch(items []SaveItem, todo []pending, out []Ptr) error {
	var buf []byte

	for len(todo) > 0 {
		f, err := s.lockLast()
		if err != nil {
			return err
		}

		pos := f.length
		buf = buf[:0]
		n := 0

		for n < len(todo) {
			it := todo[n]

			if n > 0 {
				if pos+int64(len(buf)) > s.opts.MaxFileLength {
					break
				}

				if int64(len(buf))+slotSize(it.capacity) > maxIOChunk {
					break
				}
			}

			out[it.idx] = Ptr{Capacity: it.capacity, FileID: f.id, Position: uint64(pos) + uint64(len(buf))}

			data := items[it.idx].Data
			buf = appendRecord(buf, data)
			buf = appendStub(buf, int(it.capacity)-len(data))
			n++
		}

		_, err = f.file.WriteAt(buf, pos)
		if err == nil {
			f.length += int64(len(buf))
		}

		f.mu.Unlock()

		if err != nil {
			return fmt.Errorf("appending %d records to file %d: %w", n, f.id, err)
		}

		if s.opts.Hooks.OnWrite != nil {
			for _, it := range todo[:n] {
				s.opts.Hooks.OnWrite(out[it.idx], items[it.idx].Data)
			}
		}

		todo = todo[n:]
	}

	return nil
}

// BatchLoad loads the records at ptrs.
//
// Pointers are sorted by file and position and read in sequential chunks
// whose span stays within maxBatchBytes; records far apart in a file are
// read separately instead of through the bytes between them. Results come out in file and
// position order, not input order; callers re-associate by pointer. A
// record that fails verification is yielded with nil data. Duplicate
// pointers are yielded once per occurrence.
//
// Call the returned error function after iteration. Possible errors:
// [ErrInvalidInput] for maxBatchBytes <= 0, [ErrInvalidPointer] for a
// foreign pointer (checked before anything is read), [ErrClosed], and I/O
// errors.
func (s *Store) BatchLoad(ptrs []Ptr, maxBatchBytes int64) (iter.Seq2[Ptr, []byte], func() error) {
	var iterErr error

	seq := func(yield func(Ptr, []byte) bool) {
		iterErr = nil

		if s.closed.Load() {
			iterErr = ErrClosed

			return
		}

		if maxBatchBytes <= 0 {
			iterErr = fmt.Errorf("max_batch_bytes must be > 0, got %d: %w", maxBatchBytes, ErrInvalidInput)

			return
		}

		for _, p := range ptrs {
			_, err := s.fileFor(p)
			if err != nil {
				iterErr = err

				return
			}
		}

		sorted := slices.Clone(ptrs)
		slices.SortFunc(sorted, comparePtr)

		limit := min(maxBatchBytes, maxIOChunk)

		for len(sorted) > 0 {
			n := chunkLen(sorted, limit)

			results, err := s.readChunk(sorted[:n])
			if err != nil {
				iterErr = err

				return
			}

			for i, p := range sorted[:n] {
				if s.opts.Hooks.OnRead != nil {
					s.opts.Hooks.OnRead(p, results[i])
				}

				if !yield(p, results[i]) {
					return
				}
			}

			sorted = sorted[n:]
		}
	}

	return seq, func() error { return iterErr }
}

func comparePtr(a, b Ptr) int {
	return cmp.Or(
		cmp.Compare(a.FileID, b.FileID),
		cmp.Compare(a.Position, b.Position),
		cmp.Compare(a.Capacity, b.Capacity),
	)
}

// chunkLen returns how many leading pointers of ptrs (sorted) lie in the
// same file, span at most limit bytes and are separated by gaps of at most
// maxReadGap. Always at least one.
func chunkLen(ptrs []Ptr, limit int64) int {
	first := ptrs[0]
	start := int64(first.Position)
	end := start + slotSize(first.Capacity)

	n := 1
	for n < len(ptrs) && ptrs[n].FileID == first.FileID {
		pos := int64(ptrs[n].Position)
		if pos-end > maxReadGap {
			break
		}

		next := max(end, pos+slotSize(ptrs[n].Capacity))
		if next-start > limit {
			break
		}

		end = next

		n++
	}

	return n
}

// readChunk reads the span covering ptrs (same file, sorted) with one
// positioned read and decodes every record from it.
func (s *Store) readChunk(ptrs []Ptr) ([][]byte, error) {
	f, err := s.fileFor(ptrs[0])
	if err != nil {
		return nil, err
	}

	if len(ptrs) == 1 {
		f.mu.Lock()
		data, err := readRecord(f.file, ptrs[0])
		f.mu.Unlock()

		if err != nil {
			return nil, fmt.Errorf("reading record %s: %w", ptrs[0], err)
		}

		return [][]byte{data}, nil
	}

	start := int64(ptrs[0].Position)
	end := start

	for _, p := range ptrs {
		end = max(end, int64(p.Position)+slotSize(p.Capacity))
	}

	buf := make([]byte, end-start)

	f.mu.Lock()
	n, err := f.file.ReadAt(buf, start)
	f.mu.Unlock()

	if err != nil && !isShortRead(err) {
		return nil, fmt.Errorf("reading %d bytes at %d in file %d: %w", len(buf), start, f.id, err)
	}

	buf = buf[:n]
	out := make([][]byte, len(ptrs))

	for i, p := range ptrs {
		off := int64(p.Position) - start
		if off >= int64(len(buf)) {
			continue
		}

		out[i] = parseRecord(buf[off:], p.Capacity)
	}

	return out, nil
}
