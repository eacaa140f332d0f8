// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Messages whose encoding exceeds compressThreshold bytes are
// compressed with zstd before they are handed to a remote transport.
const compressThreshold = 4 << 10

const (
	codecRaw  byte = 0
	codecZstd byte = 1
)

// wireMessage is the msgpack representation of a Message. Complex
// values are interleaved as (real, imag) pairs.
type wireMessage struct {
	Ints    []int64   `msgpack:"i,omitempty"`
	Reals   []float64 `msgpack:"r,omitempty"`
	Complex []float64 `msgpack:"c,omitempty"`
	Text    string    `msgpack:"t,omitempty"`
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func initZstd() {
	zstdOnce.Do(func() {
		if zstdEncoder, zstdErr = zstd.NewWriter(nil); zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
}

// EncodeMessage serializes m for transmission. The first byte of the
// encoding identifies whether the remainder is compressed.
func EncodeMessage(m *Message) ([]byte, error) {
	w := wireMessage{Reals: m.Reals, Text: m.Text}
	if len(m.Ints) > 0 {
		w.Ints = make([]int64, len(m.Ints))
		for i, v := range m.Ints {
			w.Ints[i] = int64(v)
		}
	}
	if len(m.Complex) > 0 {
		w.Complex = make([]float64, 2*len(m.Complex))
		for i, v := range m.Complex {
			w.Complex[2*i] = real(v)
			w.Complex[2*i+1] = imag(v)
		}
	}
	p, err := msgpack.Marshal(&w)
	if err != nil {
		return nil, errors.E(err, "encode message")
	}
	if len(p) <= compressThreshold {
		return append([]byte{codecRaw}, p...), nil
	}
	initZstd()
	if zstdErr != nil {
		return nil, errors.E(zstdErr, "encode message")
	}
	return zstdEncoder.EncodeAll(p, []byte{codecZstd}), nil
}

// DecodeMessage deserializes a message produced by EncodeMessage.
func DecodeMessage(p []byte) (*Message, error) {
	if len(p) == 0 {
		return nil, errors.E(errors.Integrity, "decode message: empty payload")
	}
	body := p[1:]
	switch p[0] {
	case codecRaw:
	case codecZstd:
		initZstd()
		if zstdErr != nil {
			return nil, errors.E(zstdErr, "decode message")
		}
		var err error
		if body, err = zstdDecoder.DecodeAll(body, nil); err != nil {
			return nil, errors.E(errors.Integrity, err, "decode message")
		}
	default:
		return nil, errors.E(errors.Integrity, fmt.Sprintf("decode message: unknown codec %d", p[0]))
	}
	var w wireMessage
	if err := msgpack.Unmarshal(body, &w); err != nil {
		return nil, errors.E(errors.Integrity, err, "decode message")
	}
	if len(w.Complex)%2 != 0 {
		return nil, errors.E(errors.Integrity, "decode message: odd number of complex components")
	}
	m := &Message{Reals: w.Reals, Text: w.Text}
	if len(w.Ints) > 0 {
		m.Ints = make([]int, len(w.Ints))
		for i, v := range w.Ints {
			m.Ints[i] = int(v)
		}
	}
	if len(w.Complex) > 0 {
		m.Complex = make([]complex128, len(w.Complex)/2)
		for i := range m.Complex {
			m.Complex[i] = complex(w.Complex[2*i], w.Complex[2*i+1])
		}
	}
	return m, nil
}
