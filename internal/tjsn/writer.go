package tjsn

import (
	"fmt"
	"io"
)

// Writer appends records to an underlying writer.
type Writer struct {
	w       io.Writer
	written int64
	images  int
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteImage appends one image record.
func (w *Writer) WriteImage(img *Image) error {
	rec, err := EncodeImage(img)
	if err != nil {
		return err
	}
	if err := w.write(rec); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	w.images++
	return nil
}

// WriteTrailer appends the trailer record.
func (w *Writer) WriteTrailer(t Trailer) error {
	rec, err := EncodeTrailer(t)
	if err != nil {
		return err
	}
	if err := w.write(rec); err != nil {
		return fmt.Errorf("write trailer: %w", err)
	}
	return nil
}

// Written is the number of bytes written so far.
func (w *Writer) Written() int64 {
	return w.written
}

// Images is the number of image records written so far.
func (w *Writer) Images() int {
	return w.images
}

func (w *Writer) write(rec []byte) error {
	n, err := w.w.Write(rec)
	w.written += int64(n)
	if err != nil {
		return err
	}
	if n != len(rec) {
		return io.ErrShortWrite
	}
	return nil
}
