// Package compression compresses single log records.
//
// A compressed record starts with one byte naming the algorithm, so records
// written under different settings can live in the same log.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"replaylog/pkg/dberrors"
)

type Algorithm uint8

const (
	None Algorithm = iota
	Gzip
	Zstd
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// ParseAlgorithm accepts "", "none", "gzip" and "zstd".
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "none":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("%w: unknown compression %q", dberrors.ErrInvalidArgument, name)
	}
}

// Compressor frames and compresses records with one algorithm and
// decompresses records of any algorithm. Safe for concurrent use.
type Compressor struct {
	algo Algorithm
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func New(algo Algorithm) (*Compressor, error) {
	if algo > Zstd {
		return nil, fmt.Errorf("%w: %s", dberrors.ErrInvalidArgument, algo)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Compressor{algo: algo, enc: enc, dec: dec}, nil
}

func (c *Compressor) Algorithm() Algorithm { return c.algo }

func (c *Compressor) Compress(src []byte) ([]byte, error) {
	out := []byte{byte(c.algo)}
	switch c.algo {
	case None:
		return append(out, src...), nil
	case Zstd:
		return c.enc.EncodeAll(src, out), nil
	case Gzip:
		buf := bytes.NewBuffer(out)
		gz := gzip.NewWriter(buf)
		if _, err := gz.Write(src); err != nil {
			return nil, err
		}
		if err := gz.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %s", dberrors.ErrInvalidArgument, c.algo)
}

func (c *Compressor) Decompress(rec []byte) ([]byte, error) {
	if len(rec) == 0 {
		return nil, fmt.Errorf("%w: empty compressed record", dberrors.ErrCorruptRecord)
	}
	payload := rec[1:]
	switch Algorithm(rec[0]) {
	case None:
		return append([]byte(nil), payload...), nil
	case Zstd:
		out, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", dberrors.ErrCorruptRecord, err)
		}
		return out, nil
	case Gzip:
		gz, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", dberrors.ErrCorruptRecord, err)
		}
		defer gz.Close()
		out, err := io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", dberrors.ErrCorruptRecord, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression tag %d", dberrors.ErrCorruptRecord, rec[0])
	}
}

// Close releases the zstd decoder.
func (c *Compressor) Close() {
	c.dec.Close()
	_ = c.enc.Close()
}
