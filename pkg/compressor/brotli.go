// Package compressor wraps Brotli compression for the wire payload
// path at high quality, with the serialized length given as a size
// hint. Callers declare whether a payload is JSON text or a binary
// map; the andybalholm/brotli encoder does not expose the C library's
// text/generic mode switch, so the declaration currently selects the
// same encoder options either way (see Mode).
package compressor

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// Quality is the Brotli quality setting used for all compression.
const Quality = 10

// lgWin is the encoder window size (log2) used for all payloads.
const lgWin = 22

// Mode declares a payload's content class: text (JSON) or generic
// (binary map). andybalholm/brotli's WriterOptions carries no encoder
// mode field, so Mode does not change the produced options today; it
// is kept in the signature so that call sites state the payload class
// and a binding that does expose the mode can be swapped in without
// touching them.
type Mode int

const (
	ModeText    Mode = iota // JSON payloads
	ModeGeneric             // binary-map (msgpack) payloads
)

// Compress brotli-compresses data. sizeHint (the serialized length)
// is informational only: Brotli's Go binding does not take an
// explicit size hint parameter, so it is accepted for interface
// stability and otherwise unused.
func Compress(data []byte, _ Mode, sizeHint int) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{Quality: Quality, LGWin: lgWin})
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("compressor: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressor: close: %w", err)
	}
	return buf.Bytes(), nil
}

// ErrDecompressionBomb is returned by Decompress when the inflated
// size would exceed maxSize, guarding against decompression bombs.
var ErrDecompressionBomb = fmt.Errorf("compressor: decompressed payload exceeds configured cap")

// Decompress inflates data, aborting once more than maxSize bytes have
// been produced.
func Decompress(data []byte, maxSize int) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	limited := io.LimitReader(r, int64(maxSize)+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("compressor: decompress: %w", err)
	}
	if len(out) > maxSize {
		return nil, ErrDecompressionBomb
	}
	return out, nil
}
