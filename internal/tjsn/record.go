// Package tjsn reads and writes the on-card image and video files.
//
// A file is a sequence of self-delimited JSON records: STX, a canonical JSON
// object, ETX. An image file (.tjsn) holds exactly one image record. A video
// file (.tmjsn) holds N image records followed by one trailer record carrying
// the start/end timestamps and the frame count.
package tjsn

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/e7canasta/tcam-core/modules/framesource"
)

const (
	// STX opens a record.
	STX byte = 0x02
	// ETX closes a record.
	ETX byte = 0x03

	// MaxRecordLen bounds a single record; larger input is malformed.
	MaxRecordLen = 1 << 20

	// TrailerVersion is written into every trailer.
	TrailerVersion = 1

	timeLayout = "15:04:05.000"
	dateLayout = "1/2/06"
)

var (
	// ErrMalformed marks a record that cannot be decoded.
	ErrMalformed = errors.New("malformed record")
	// ErrUnknownRecord marks valid JSON that is neither an image nor a trailer.
	ErrUnknownRecord = errors.New("unknown record type")
	// ErrNoTrailer is returned when the tail window holds no trailer.
	ErrNoTrailer = errors.New("no trailer record")
	// ErrEmptyVideo is returned for a trailer that reports zero frames.
	ErrEmptyVideo = errors.New("video has no frames")
)

// Metadata describes the camera and capture time of an image.
type Metadata struct {
	Camera  string `json:"Camera"`
	Model   int    `json:"Model"`
	Version string `json:"Version"`
	Time    string `json:"Time"`
	Date    string `json:"Date"`
	Millis  int64  `json:"Millis"`
	Width   int    `json:"Width"`
	Height  int    `json:"Height"`
}

// Image is a decoded image record.
type Image struct {
	Meta      Metadata
	Timestamp time.Time
	Pixels    []uint16
	Telemetry []uint16
}

// Trailer summarises a video file.
type Trailer struct {
	Start  time.Time
	End    time.Time
	Frames int
}

// Duration is the span between the first and last frame.
func (t Trailer) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// Record is one decoded record: exactly one of Image or Trailer is set.
type Record struct {
	Image   *Image
	Trailer *Trailer
}

// IsTrailer reports whether the record is the video trailer.
func (r Record) IsTrailer() bool {
	return r.Trailer != nil
}

type imageWire struct {
	Metadata    Metadata `json:"metadata"`
	Radiometric string   `json:"radiometric"`
	Telemetry   string   `json:"telemetry,omitempty"`
}

type trailerWire struct {
	VideoInfo videoInfo `json:"video_info"`
}

type videoInfo struct {
	StartDate string `json:"start_date"`
	StartTime string `json:"start_time"`
	EndDate   string `json:"end_date"`
	EndTime   string `json:"end_time"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
	NumFrames int    `json:"num_frames"`
	Version   int    `json:"version"`
}

type probe struct {
	Metadata    *json.RawMessage `json:"metadata"`
	Radiometric *string          `json:"radiometric"`
	Telemetry   *string          `json:"telemetry"`
	VideoInfo   *videoInfo       `json:"video_info"`
}

// NewImage builds an image record from a frame. Buffers are copied.
func NewImage(f *framesource.Frame, camera, version string) *Image {
	ts := f.Timestamp
	img := &Image{
		Meta: Metadata{
			Camera:  camera,
			Version: version,
			Time:    ts.Format(timeLayout),
			Date:    ts.Format(dateLayout),
			Millis:  ts.UnixMilli(),
			Width:   f.Width,
			Height:  f.Height,
		},
		Timestamp: ts,
		Pixels:    append([]uint16(nil), f.Pixels...),
		Telemetry: append([]uint16(nil), f.Telemetry...),
	}
	return img
}

// Frame converts the image into a frame ready for a consumer sink.
func (img *Image) Frame() *framesource.Frame {
	f := &framesource.Frame{
		Timestamp: img.Timestamp,
		Width:     img.Meta.Width,
		Height:    img.Meta.Height,
		Pixels:    img.Pixels,
		Telemetry: img.Telemetry,
		Checksum:  framesource.Checksum(img.Pixels, img.Telemetry),
	}
	f.Min, f.Max = framesource.MinMax(img.Pixels)
	return f
}

// EncodeImage returns the framed, canonical image record.
func EncodeImage(img *Image) ([]byte, error) {
	wire := imageWire{
		Metadata:    img.Meta,
		Radiometric: encodeWords(img.Pixels),
	}
	if len(img.Telemetry) > 0 {
		wire.Telemetry = encodeWords(img.Telemetry)
	}
	return frameJSON(wire)
}

// EncodeTrailer returns the framed, canonical trailer record.
func EncodeTrailer(t Trailer) ([]byte, error) {
	wire := trailerWire{VideoInfo: videoInfo{
		StartDate: t.Start.Format(dateLayout),
		StartTime: t.Start.Format(timeLayout),
		EndDate:   t.End.Format(dateLayout),
		EndTime:   t.End.Format(timeLayout),
		StartMs:   t.Start.UnixMilli(),
		EndMs:     t.End.UnixMilli(),
		NumFrames: t.Frames,
		Version:   TrailerVersion,
	}}
	return frameJSON(wire)
}

func frameJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize record: %w", err)
	}
	out := make([]byte, 0, len(canonical)+2)
	out = append(out, STX)
	out = append(out, canonical...)
	out = append(out, ETX)
	return out, nil
}

// Decode parses the JSON body of one record (delimiters already stripped).
func Decode(body []byte) (Record, error) {
	var p probe
	if err := json.Unmarshal(body, &p); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case p.VideoInfo != nil:
		vi := p.VideoInfo
		return Record{Trailer: &Trailer{
			Start:  time.UnixMilli(vi.StartMs),
			End:    time.UnixMilli(vi.EndMs),
			Frames: vi.NumFrames,
		}}, nil

	case p.Radiometric != nil:
		if p.Metadata == nil {
			return Record{}, fmt.Errorf("%w: image without metadata", ErrMalformed)
		}
		img, err := decodeImage(*p.Metadata, *p.Radiometric, p.Telemetry)
		if err != nil {
			return Record{}, err
		}
		return Record{Image: img}, nil

	default:
		return Record{}, ErrUnknownRecord
	}
}

func decodeImage(rawMeta json.RawMessage, radiometric string, telemetry *string) (*Image, error) {
	var meta Metadata
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformed, err)
	}

	pixels, err := decodeWords(radiometric)
	if err != nil {
		return nil, fmt.Errorf("%w: radiometric: %v", ErrMalformed, err)
	}
	if meta.Width > 0 && meta.Height > 0 && meta.Width*meta.Height != len(pixels) {
		return nil, fmt.Errorf("%w: %d pixels for %dx%d", ErrMalformed, len(pixels), meta.Width, meta.Height)
	}

	img := &Image{Meta: meta, Pixels: pixels}
	if telemetry != nil {
		if img.Telemetry, err = decodeWords(*telemetry); err != nil {
			return nil, fmt.Errorf("%w: telemetry: %v", ErrMalformed, err)
		}
	}

	ts, err := meta.timestamp()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	img.Timestamp = ts
	return img, nil
}

func (m Metadata) timestamp() (time.Time, error) {
	if m.Millis != 0 {
		return time.UnixMilli(m.Millis), nil
	}
	if m.Date == "" || m.Time == "" {
		return time.Time{}, errors.New("metadata has no timestamp")
	}
	return time.ParseInLocation(dateLayout+" "+timeLayout, m.Date+" "+m.Time, time.Local)
}

func encodeWords(words []uint16) string {
	buf := make([]byte, len(words)*2)
	for i, w := range words {
		binary.LittleEndian.PutUint16(buf[i*2:], w)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeWords(s string) ([]uint16, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%2 != 0 {
		return nil, fmt.Errorf("odd byte count %d", len(buf))
	}
	words := make([]uint16, len(buf)/2)
	for i := range words {
		words[i] = binary.LittleEndian.Uint16(buf[i*2:])
	}
	return words, nil
}
