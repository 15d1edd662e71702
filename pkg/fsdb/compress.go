package fsdb

import (
	"github.com/klauspost/compress/zstd"
)

// maxDecodedValue bounds the memory a single compressed value may expand to.
const maxDecodedValue = 1 << 31

// valueCodec compresses values on the way to the record store. The zstd
// encoder and decoder are safe for concurrent EncodeAll/DecodeAll calls.
type valueCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newValueCodec() (*valueCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithZeroFrames(true))
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedValue))
	if err != nil {
		_ = enc.Close()

		return nil, err
	}

	return &valueCodec{enc: enc, dec: dec}, nil
}

func (c *valueCodec) encode(v []byte) []byte {
	return c.enc.EncodeAll(v, make([]byte, 0, len(v)/2+16))
}

// decode returns nil for data that is not a valid frame.
func (c *valueCodec) decode(data []byte) []byte {
	v, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil
	}

	if v == nil {
		v = []byte{}
	}

	return v
}

func (c *valueCodec) close() error {
	c.dec.Close()

	return c.enc.Close()
}
