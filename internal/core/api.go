package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/e7canasta/tcam-core/internal/catalog"
	"github.com/e7canasta/tcam-core/internal/coordinator"
	"github.com/e7canasta/tcam-core/internal/media"
	"github.com/e7canasta/tcam-core/internal/netstream"
	"github.com/e7canasta/tcam-core/internal/playback"
	"github.com/e7canasta/tcam-core/internal/recorder"
	"github.com/e7canasta/tcam-core/modules/framesource"
	"github.com/e7canasta/tcam-core/modules/framesupplier"
	"github.com/e7canasta/tcam-core/modules/notifybus"
)

// Every method below runs on the owner goroutine through exec. Synchronous
// rejections are returned to the caller; failures after a session started are
// reported through OperationFailed notifications.

// TakePicture opens a single-image session. The image is written by the next
// recording-class frame.
func (c *Camera) TakePicture(ctx context.Context) (recorder.Session, error) {
	var sess recorder.Session
	var err error
	if xerr := c.exec(ctx, func() {
		sess, err = c.recorder.Start(recorder.SingleImage())
	}); xerr != nil {
		return recorder.Session{}, xerr
	}
	return sess, err
}

// StartRecording opens a video session. A negative delay or count uses the
// configured default.
func (c *Camera) StartRecording(ctx context.Context, delay time.Duration, count int) (recorder.Session, error) {
	if delay < 0 {
		delay = time.Duration(c.cfg.Recording.DefaultDelayMS) * time.Millisecond
	}
	if count < 0 {
		count = c.cfg.Recording.DefaultCount
	}

	var sess recorder.Session
	var err error
	if xerr := c.exec(ctx, func() {
		sess, err = c.recorder.Start(recorder.Continuous(delay, count))
	}); xerr != nil {
		return recorder.Session{}, xerr
	}
	return sess, err
}

// StopRecording closes the open recording. Stopping when idle is a no-op.
func (c *Camera) StopRecording(ctx context.Context) error {
	var err error
	if xerr := c.exec(ctx, func() {
		err = c.recorder.Stop()
	}); xerr != nil {
		return xerr
	}
	return err
}

// ListCatalog returns the directory names (dirIndex -1) or the file names of
// one directory, and publishes them as CatalogReady.
func (c *Camera) ListCatalog(ctx context.Context, dirIndex int) ([]string, error) {
	var names []string
	var err error
	if xerr := c.exec(ctx, func() {
		if err = c.ensureCatalog(); err != nil {
			return
		}
		if names, err = c.catalog.Names(dirIndex); err != nil {
			return
		}
		c.publishListing(dirIndex)
	}); xerr != nil {
		return nil, xerr
	}
	return names, err
}

// GetFile opens an image on consumer's player.
func (c *Camera) GetFile(ctx context.Context, consumer, dir, name string) error {
	return c.open(ctx, consumer, dir, name, false)
}

// GetVideo opens a video on consumer's player. The display opens paused; the
// network plays at once.
func (c *Camera) GetVideo(ctx context.Context, consumer, dir, name string) error {
	return c.open(ctx, consumer, dir, name, true)
}

func (c *Camera) open(ctx context.Context, consumer, dir, name string, video bool) error {
	var err error
	if xerr := c.exec(ctx, func() {
		var p *playback.Player
		if p, err = c.player(consumer); err != nil {
			return
		}
		if err = c.ensureCatalog(); err != nil {
			return
		}
		if _, _, err = c.catalog.Lookup(dir, name); err != nil {
			return
		}
		if media.IsVideo(name) != video {
			err = fmt.Errorf("%s/%s: %w", dir, name, ErrWrongKind)
			return
		}
		err = p.Open(dir, name)
		// Live arming follows on the next loop iteration
	}); xerr != nil {
		return xerr
	}
	return err
}

// Play resumes consumer's paused video.
func (c *Camera) Play(ctx context.Context, consumer string) error {
	return c.withPlayer(ctx, consumer, func(p *playback.Player) error {
		return p.Play(c.now())
	})
}

// Pause holds consumer's video at its current position.
func (c *Camera) Pause(ctx context.Context, consumer string) error {
	return c.withPlayer(ctx, consumer, func(p *playback.Player) error {
		return p.Pause(c.now())
	})
}

// StopPlayback ends consumer's session; the live view resumes.
func (c *Camera) StopPlayback(ctx context.Context, consumer string) error {
	return c.withPlayer(ctx, consumer, func(p *playback.Player) error {
		p.Stop()
		return nil
	})
}

func (c *Camera) withPlayer(ctx context.Context, consumer string, fn func(p *playback.Player) error) error {
	var err error
	if xerr := c.exec(ctx, func() {
		var p *playback.Player
		if p, err = c.player(consumer); err != nil {
			return
		}
		err = fn(p)
	}); xerr != nil {
		return xerr
	}
	return err
}

func (c *Camera) player(consumer string) (*playback.Player, error) {
	switch consumer {
	case notifybus.ConsumerDisplay:
		return c.display, nil
	case notifybus.ConsumerNetwork:
		return c.network, nil
	default:
		return nil, fmt.Errorf("%q: %w", consumer, ErrUnknownConsumer)
	}
}

// DeleteFile removes one file, stopping any session on it first.
func (c *Camera) DeleteFile(ctx context.Context, dir, name string) error {
	var err error
	if xerr := c.exec(ctx, func() {
		if err = c.ensureCatalog(); err != nil {
			return
		}
		if err = c.coord.DeleteFile(dir, name); err != nil {
			return
		}
		c.publishAfterDelete(dir)
	}); xerr != nil {
		return xerr
	}
	return err
}

// DeleteDirectory removes a directory and its files, stopping every session
// inside it first.
func (c *Camera) DeleteDirectory(ctx context.Context, dir string) error {
	var err error
	if xerr := c.exec(ctx, func() {
		if err = c.ensureCatalog(); err != nil {
			return
		}
		err = c.coord.DeleteDirectory(dir)
		if err == nil || errors.Is(err, coordinator.ErrPartialDelete) {
			c.publishAfterDelete(dir)
		}
	}); xerr != nil {
		return xerr
	}
	return err
}

// publishAfterDelete lists dir if it is still tracked, otherwise the root.
func (c *Camera) publishAfterDelete(dir string) {
	if idx, err := c.catalog.LocateDirectory(dir); err == nil {
		c.publishListing(idx)
		return
	}
	c.publishListing(catalog.RootIndex)
}

// FormatMedia erases the card after stopping every session.
func (c *Camera) FormatMedia(ctx context.Context) error {
	var err error
	if xerr := c.exec(ctx, func() {
		if err = c.card.Mount(); err != nil {
			return
		}
		if err = c.coord.Format(); err != nil {
			return
		}
		slog.Info("media formatted")
		c.publishListing(catalog.RootIndex)
	}); xerr != nil {
		return xerr
	}
	return err
}

// ReadFile returns the bytes of a tracked file.
func (c *Camera) ReadFile(ctx context.Context, dir, name string) ([]byte, error) {
	var data []byte
	var err error
	if xerr := c.exec(ctx, func() {
		if err = c.ensureCatalog(); err != nil {
			return
		}
		if _, _, err = c.catalog.Lookup(dir, name); err != nil {
			return
		}
		var f media.File
		if f, err = c.card.Open(dir, name); err != nil {
			return
		}
		defer f.Close()
		data, err = io.ReadAll(f)
	}); xerr != nil {
		return nil, xerr
	}
	return data, err
}

// RecordingStatus describes the recording engine.
type RecordingStatus struct {
	State     string            `json:"state"`
	Session   *recorder.Session `json:"session,omitempty"`
	LastError string            `json:"last_error,omitempty"`
}

// MediaStatus describes the card.
type MediaStatus struct {
	Present bool        `json:"present"`
	Mounted bool        `json:"mounted"`
	Usage   media.Usage `json:"usage"`
}

// NotificationStatus summarises notification delivery. Drop rates are
// fractions of attempted deliveries.
type NotificationStatus struct {
	Published   uint64             `json:"published"`
	Dropped     uint64             `json:"dropped"`
	DropRate    float64            `json:"drop_rate"`
	Subscribers map[string]float64 `json:"subscriber_drop_rates"`
}

// Status is a snapshot of the whole core.
type Status struct {
	InstanceID     string                      `json:"instance_id"`
	UptimeSeconds  int64                       `json:"uptime_seconds"`
	Recording      RecordingStatus             `json:"recording"`
	Display        playback.Status             `json:"display"`
	Network        playback.Status             `json:"network"`
	Catalog        catalog.Stats               `json:"catalog"`
	Media          MediaStatus                 `json:"media"`
	Source         framesource.Stats           `json:"source"`
	SourceRate     framesource.RateStats       `json:"source_rate"`
	Supplier       framesupplier.SupplierStats `json:"supplier"`
	Screen         DisplayStats                `json:"screen"`
	Hub            netstream.Stats             `json:"hub"`
	NetworkClients int                         `json:"network_clients"`
	Notifications  NotificationStatus          `json:"notifications"`
	Failures       map[string]uint64           `json:"failures"`
}

// Status returns a snapshot taken on the owner goroutine.
func (c *Camera) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.exec(ctx, func() {
		st = Status{
			InstanceID:     c.cfg.InstanceID,
			Display:        c.display.Status(),
			Network:        c.network.Status(),
			Catalog:        c.catalog.Stats(),
			Source:         c.source.Stats(),
			SourceRate:     c.rate.Stats(),
			Supplier:       c.supplier.Stats(),
			Screen:         c.screen.Stats(),
			Hub:            c.hub.Stats(),
			NetworkClients: int(c.netClients.Load()),
		}
		st.Recording.State = c.recorder.State().String()
		if sess, ok := c.recorder.Current(); ok {
			st.Recording.Session = &sess
		}
		if lerr := c.recorder.LastError(); lerr != nil {
			st.Recording.LastError = lerr.Error()
		}
		bs := c.bus.Stats()
		st.Notifications = NotificationStatus{
			Published:   bs.TotalPublished,
			Dropped:     bs.TotalDropped,
			DropRate:    notifybus.CalculateDropRate(bs),
			Subscribers: make(map[string]float64, len(bs.Subscribers)),
		}
		for id := range bs.Subscribers {
			st.Notifications.Subscribers[id] = notifybus.CalculateSubscriberDropRate(bs, id)
		}

		st.Media.Present = c.card.Present()
		st.Media.Mounted = c.card.Mounted()
		if st.Media.Mounted {
			if u, uerr := c.card.Usage(); uerr == nil {
				st.Media.Usage = u
			}
		}

		c.mu.RLock()
		if !c.started.IsZero() {
			st.UptimeSeconds = int64(time.Since(c.started).Seconds())
		}
		st.Failures = make(map[string]uint64, len(c.failures))
		for k, v := range c.failures {
			st.Failures[k] = v
		}
		c.mu.RUnlock()
	})
	return st, err
}

// Display returns the frame currently on the display.
func (c *Camera) Display() (DisplayFrame, bool) {
	return c.screen.Latest()
}

// Hub returns the network consumer transport.
func (c *Camera) Hub() *netstream.Hub {
	return c.hub
}

// Bus returns the notification bus.
func (c *Camera) Bus() notifybus.Bus {
	return c.bus
}
