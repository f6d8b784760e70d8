package kv

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/dotlanth/dotvm/dotvmerr"
)

// Compressor is the pluggable compression contract: the
// decompressor must reject malformed input rather than silently truncate.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// RLECompressor is the default: byte-level run-length encoding as
// {count_u8, byte_u8} pairs. A placeholder meant to be swapped for a real
// compressor in production; ZstdCompressor below is that alternative.
type RLECompressor struct{}

func (RLECompressor) Name() string { return "rle" }

func (RLECompressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		b := data[i]
		run := 1
		for i+run < len(data) && data[i+run] == b && run < 255 {
			run++
		}
		out = append(out, byte(run), b)
		i += run
	}
	return out, nil
}

func (RLECompressor) Decompress(data []byte) ([]byte, error) {
	const op = "RLECompressor.Decompress"
	if len(data)%2 != 0 {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, nil)
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i += 2 {
		count, b := data[i], data[i+1]
		for n := byte(0); n < count; n++ {
			out = append(out, b)
		}
	}
	return out, nil
}

// ZstdCompressor is a real block-based compressor, an alternative to the
// byte-level RLE default for indices large enough to benefit from it.
type ZstdCompressor struct{}

func (ZstdCompressor) Name() string { return "zstd" }

func (ZstdCompressor) Compress(data []byte) ([]byte, error) {
	const op = "ZstdCompressor.Compress"
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindInternal, op, err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	const op = "ZstdCompressor.Decompress"
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindSerializationError, op, err)
	}
	return out, nil
}
