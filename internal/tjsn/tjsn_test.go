package tjsn

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/e7canasta/tcam-core/modules/framesource"
)

func testFrame(ts time.Time, base uint16) *framesource.Frame {
	pixels := make([]uint16, 4*3)
	for i := range pixels {
		pixels[i] = base + uint16(i)
	}
	telemetry := []uint16{1, 2, 3}
	return &framesource.Frame{
		Timestamp: ts,
		Width:     4,
		Height:    3,
		Pixels:    pixels,
		Telemetry: telemetry,
		Checksum:  framesource.Checksum(pixels, telemetry),
	}
}

// TestVideoRoundTrip validates a video of N images followed by a trailer
// reads back as N images, then the trailer, then io.EOF.
func TestVideoRoundTrip(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	var buf bytes.Buffer
	w := NewWriter(&buf)

	for i := 0; i < 3; i++ {
		ts := start.Add(time.Duration(i) * 300 * time.Millisecond)
		if err := w.WriteImage(NewImage(testFrame(ts, uint16(1000*i)), "tcam", "1.0")); err != nil {
			t.Fatalf("WriteImage() failed: %v", err)
		}
	}
	end := start.Add(600 * time.Millisecond)
	if err := w.WriteTrailer(Trailer{Start: start, End: end, Frames: 3}); err != nil {
		t.Fatalf("WriteTrailer() failed: %v", err)
	}
	if w.Images() != 3 || w.Written() != int64(buf.Len()) {
		t.Errorf("Images()=%d Written()=%d, buffer has %d bytes", w.Images(), w.Written(), buf.Len())
	}

	r := NewReader(bytes.NewReader(buf.Bytes()))
	for i := 0; i < 3; i++ {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("Next() record %d failed: %v", i, err)
		}
		if rec.IsTrailer() || rec.Image == nil {
			t.Fatalf("record %d is not an image", i)
		}
		want := start.Add(time.Duration(i) * 300 * time.Millisecond)
		if !rec.Image.Timestamp.Equal(want) {
			t.Errorf("record %d timestamp = %v, want %v", i, rec.Image.Timestamp, want)
		}
		if rec.Image.Pixels[0] != uint16(1000*i) || len(rec.Image.Pixels) != 12 {
			t.Errorf("record %d pixels decoded wrong", i)
		}
		f := rec.Image.Frame()
		if !f.Valid() || f.Width != 4 || f.Height != 3 {
			t.Errorf("record %d frame conversion wrong: %+v", i, f)
		}
	}

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next() trailer failed: %v", err)
	}
	if !rec.IsTrailer() {
		t.Fatal("fourth record is not the trailer")
	}
	if rec.Trailer.Frames != 3 || rec.Trailer.Duration() != 600*time.Millisecond {
		t.Errorf("trailer = %+v", rec.Trailer)
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() after trailer err = %v, want io.EOF", err)
	}

	tr, err := ReadTrailer(bytes.NewReader(buf.Bytes()), int64(buf.Len()), 256)
	if err != nil {
		t.Fatalf("ReadTrailer() failed: %v", err)
	}
	if tr.Frames != 3 || !tr.Start.Equal(start) || !tr.End.Equal(end) {
		t.Errorf("ReadTrailer() = %+v", tr)
	}
}

// TestTrailerIsCanonical validates trailer bytes do not depend on encoding
// order, so the tail window always finds the same record.
func TestTrailerIsCanonical(t *testing.T) {
	tr := Trailer{Start: time.UnixMilli(1000), End: time.UnixMilli(5000), Frames: 2}
	a, err := EncodeTrailer(tr)
	if err != nil {
		t.Fatalf("EncodeTrailer() failed: %v", err)
	}
	b, _ := EncodeTrailer(tr)
	if !bytes.Equal(a, b) {
		t.Error("trailer encoding is not deterministic")
	}
	if a[0] != STX || a[len(a)-1] != ETX {
		t.Error("trailer not framed by STX/ETX")
	}
	if len(a) > 256 {
		t.Errorf("trailer is %d bytes, larger than the default tail window", len(a))
	}
	// Canonical JSON sorts keys: end_date precedes start_date
	if bytes.Index(a, []byte("end_date")) > bytes.Index(a, []byte("start_date")) {
		t.Error("trailer keys not in canonical order")
	}
}

func TestReadTrailerMissing(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteImage(NewImage(testFrame(time.Now(), 1), "tcam", "1.0"))

	_, err := ReadTrailer(bytes.NewReader(buf.Bytes()), int64(buf.Len()), 256)
	if !errors.Is(err, ErrNoTrailer) {
		t.Errorf("ReadTrailer() on image file err = %v, want ErrNoTrailer", err)
	}

	if _, err := ReadTrailer(bytes.NewReader(nil), 0, 256); !errors.Is(err, ErrNoTrailer) {
		t.Errorf("ReadTrailer() on empty file err = %v, want ErrNoTrailer", err)
	}
}

func TestReadTrailerZeroFrames(t *testing.T) {
	rec, _ := EncodeTrailer(Trailer{Start: time.UnixMilli(0), End: time.UnixMilli(0), Frames: 0})
	_, err := ReadTrailer(bytes.NewReader(rec), int64(len(rec)), 256)
	if !errors.Is(err, ErrEmptyVideo) {
		t.Errorf("err = %v, want ErrEmptyVideo", err)
	}
}

// TestReaderTruncatedRecord validates a record cut short by power loss is
// reported as malformed, not as a clean end of file.
func TestReaderTruncatedRecord(t *testing.T) {
	rec, _ := EncodeImage(NewImage(testFrame(time.Now(), 1), "tcam", "1.0"))
	truncated := rec[:len(rec)/2]

	_, err := NewReader(bytes.NewReader(truncated)).Next()
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{"metadata":`, ErrMalformed},
		{"unknown object", `{"status":{"ok":true}}`, ErrUnknownRecord},
		{"image without metadata", `{"radiometric":"AAAA"}`, ErrMalformed},
		{"bad base64", `{"metadata":{"Millis":1},"radiometric":"!!!"}`, ErrMalformed},
		{"geometry mismatch", `{"metadata":{"Millis":1,"Width":4,"Height":4},"radiometric":"AAAAAA=="}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.body)); !errors.Is(err, tt.want) {
				t.Errorf("Decode() err = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestDecodeLegacyTimestamp validates images without Millis fall back to the
// Date/Time strings.
func TestDecodeLegacyTimestamp(t *testing.T) {
	body := `{"metadata":{"Date":"3/14/24","Time":"10:11:12.500"},"radiometric":"AAAAAA=="}`
	rec, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	want := time.Date(2024, 3, 14, 10, 11, 12, 500*int(time.Millisecond), time.Local)
	if !rec.Image.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", rec.Image.Timestamp, want)
	}
}

func TestReaderSkipsGarbageBetweenRecords(t *testing.T) {
	rec, _ := EncodeImage(NewImage(testFrame(time.UnixMilli(42), 7), "tcam", "1.0"))
	input := append([]byte("\r\n junk "), rec...)
	input = append(input, '\n')

	r := NewReader(bytes.NewReader(input))
	got, err := r.Next()
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if got.Image.Meta.Millis != 42 {
		t.Errorf("Millis = %d, want 42", got.Image.Meta.Millis)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("trailing bytes err = %v, want io.EOF", err)
	}
	if r.Offset() != int64(len(input)) {
		t.Errorf("Offset() = %d, want %d", r.Offset(), len(input))
	}
}
