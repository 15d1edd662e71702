package fsdb

import (
	"bytes"
	"iter"

	"github.com/calvinalkan/fsdb/pkg/blobstore"
)

func (db *DB[K]) batchLimit(maxBatchBytes int64) int64 {
	if maxBatchBytes <= 0 {
		return db.batchBytes
	}

	return maxBatchBytes
}

// GetBatch looks up keys and yields every key exactly once per occurrence
// in keys, with its value or nil.
//
// Absent keys are yielded first. Present keys are grouped by pointer and
// loaded with [blobstore.Store.BatchLoad], so they come out in disk order;
// keys sharing one pointer are all yielded with that record's value.
// maxBatchBytes <= 0 uses the configured batch size.
//
// Call the returned error function after iteration.
func (db *DB[K]) GetBatch(keys []K, maxBatchBytes int64) (iter.Seq2[K, []byte], func() error) {
	var iterErr error

	seq := func(yield func(K, []byte) bool) {
		iterErr = nil

		byPtr := make(map[blobstore.Ptr][]K)

		var ptrs []blobstore.Ptr

		for _, k := range keys {
			p, ok := db.index.Get(k)
			if !ok {
				if !yield(k, nil) {
					return
				}

				continue
			}

			if _, seen := byPtr[p]; !seen {
				ptrs = append(ptrs, p)
			}

			byPtr[p] = append(byPtr[p], k)
		}

		records, errFn := db.store.BatchLoad(ptrs, db.batchLimit(maxBatchBytes))

		for p, data := range records {
			v := db.decode(data)

			for i, k := range byPtr[p] {
				out := v
				if i > 0 && v != nil {
					out = bytes.Clone(v)
				}

				if !yield(k, out) {
					return
				}
			}
		}

		iterErr = errFn()
	}

	return seq, func() error { return iterErr }
}

// SaveBatch saves items in chunks of at most maxBatchBytes of values. A
// value larger than maxBatchBytes goes in a chunk of its own. Each chunk resolves the current pointers
// of its keys, saves all values with one [blobstore.Store.BatchSave] and
// writes the resulting pointers to the index in item order, so when a key
// repeats the last item wins. maxBatchBytes <= 0 uses the configured batch
// size.
//
// An error stops the batch; earlier chunks stay saved.
func (db *DB[K]) SaveBatch(items []Entry[K], maxBatchBytes int64) error {
	limit := db.batchLimit(maxBatchBytes)
	start := 0

	var size int64

	for i, it := range items {
		n := int64(len(it.Value))

		if i > start && size+n > limit {
			err := db.saveChunk(items[start:i])
			if err != nil {
				return err
			}

			start = i
			size = 0
		}

		size += n
	}

	if start < len(items) {
		return db.saveChunk(items[start:])
	}

	return nil
}

func (db *DB[K]) saveChunk(chunk []Entry[K]) error {
	saves := make([]blobstore.SaveItem, len(chunk))

	for i, it := range chunk {
		prev, _ := db.index.Get(it.Key)
		saves[i] = blobstore.SaveItem{Prev: prev, Data: db.encode(it.Value)}
	}

	ptrs, err := db.store.BatchSave(saves)
	if err != nil {
		return err
	}

	for i, it := range chunk {
		err := db.index.Set(it.Key, ptrs[i])
		if err != nil {
			return err
		}
	}

	db.log.Debug("saved batch chunk", "items", len(chunk))

	return nil
}
