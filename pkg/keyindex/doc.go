// Package keyindex is a persistent map from application keys to record
// pointers.
//
// The map is kept in memory and made durable by an append-only log,
// <prefix>.pidx, of records shaped
//
//	[validity byte][int16 key length][key][int16 pointer length][pointer]
//
// with little-endian lengths. [Index.Set] always appends; an older record
// for the same key stays on disk and is shadowed because replay applies
// records in file order. [Index.Remove] overwrites just the validity byte of
// the key's latest record with 0. No variable-length record is ever
// rewritten, so a crash during a write can only leave a torn record at the
// tail, which [Open] drops.
//
// The index knows nothing about the storage backend. Pointers only need to
// be comparable and able to append their binary form (see [Pointer]); a
// [PointerDecoder] turns the bytes back into a pointer during replay. Keys
// are encoded by a [KeyCodec].
package keyindex
