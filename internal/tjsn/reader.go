package tjsn

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Reader decodes records sequentially.
type Reader struct {
	br     *bufio.Reader
	offset int64
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 16*1024)}
}

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Next returns the next record.
//
// Returns io.EOF when no further record starts before the end of input, and
// an error wrapping ErrMalformed for a truncated or undecodable record.
func (r *Reader) Next() (Record, error) {
	body, err := r.nextBody()
	if err != nil {
		return Record{}, err
	}
	return Decode(body)
}

func (r *Reader) nextBody() ([]byte, error) {
	// Skip to STX
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read record: %w", err)
		}
		r.offset++
		if b == STX {
			break
		}
	}

	var body bytes.Buffer
	for {
		chunk, err := r.br.ReadSlice(ETX)
		r.offset += int64(len(chunk))
		body.Write(chunk)
		if body.Len() > MaxRecordLen {
			return nil, fmt.Errorf("%w: record exceeds %d bytes", ErrMalformed, MaxRecordLen)
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: truncated record", ErrMalformed)
		}
		return nil, fmt.Errorf("read record: %w", err)
	}

	out := body.Bytes()
	return out[:len(out)-1], nil
}

// ReadTrailer decodes the trailer from the last window bytes of a file of
// the given size.
func ReadTrailer(r io.ReaderAt, size int64, window int) (*Trailer, error) {
	if size <= 0 {
		return nil, ErrNoTrailer
	}
	n := int64(window)
	if n > size {
		n = size
	}

	tail := make([]byte, n)
	if _, err := r.ReadAt(tail, size-n); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read tail: %w", err)
	}

	start := bytes.LastIndexByte(tail, STX)
	if start < 0 {
		return nil, ErrNoTrailer
	}
	end := bytes.IndexByte(tail[start:], ETX)
	if end < 0 {
		return nil, ErrNoTrailer
	}

	rec, err := Decode(tail[start+1 : start+end])
	if err != nil || !rec.IsTrailer() {
		return nil, ErrNoTrailer
	}
	if rec.Trailer.Frames <= 0 {
		return nil, ErrEmptyVideo
	}
	return rec.Trailer, nil
}
