// Package core is the camera's owning task. It holds the catalog, the
// recording engine, both playback engines and the deletion coordinator, and
// runs every storage operation on one goroutine.
//
// Other goroutines talk to the owner through closures sent on a request
// channel and through a coalescing event set. The only state shared with the
// producer is the frame slots inside the supplier.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/tcam-core/internal/catalog"
	"github.com/e7canasta/tcam-core/internal/config"
	"github.com/e7canasta/tcam-core/internal/control"
	"github.com/e7canasta/tcam-core/internal/coordinator"
	"github.com/e7canasta/tcam-core/internal/emitter"
	"github.com/e7canasta/tcam-core/internal/events"
	"github.com/e7canasta/tcam-core/internal/media"
	"github.com/e7canasta/tcam-core/internal/netstream"
	"github.com/e7canasta/tcam-core/internal/playback"
	"github.com/e7canasta/tcam-core/internal/recorder"
	"github.com/e7canasta/tcam-core/modules/framesource"
	"github.com/e7canasta/tcam-core/modules/framesupplier"
	"github.com/e7canasta/tcam-core/modules/notifybus"
)

// Sink receives frames for one consumer. A non-empty consumer marks a
// playback frame; live frames carry an empty consumer.
type Sink interface {
	DeliverFrame(consumer string, f *framesource.Frame)
}

// Deps overrides collaborators. Zero fields are built from the config.
type Deps struct {
	Source framesource.Provider
	Card   *media.Card
	Bus    notifybus.Bus
	Now    func() time.Time
}

// rateWindow is the number of recent frames the source rate is measured over.
const rateWindow = 64

type request struct {
	fn   func()
	done chan struct{}
}

// Camera is the thermal camera core
type Camera struct {
	cfg *config.Config
	now func() time.Time

	source   framesource.Provider
	supplier framesupplier.Supplier
	card     *media.Card
	catalog  *catalog.Catalog
	recorder *recorder.Engine
	display  *playback.Player
	network  *playback.Player
	coord    *coordinator.Coordinator
	bus      notifybus.Bus
	screen   *DisplayBuffer
	rate     *framesource.RateMeter
	hub      *netstream.Hub

	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	dispatcher     *control.Dispatcher
	httpServer     *http.Server

	requests   chan request
	events     *events.Set
	live       map[framesupplier.Class]*liveFeed
	stopped    chan struct{}
	netClients atomic.Int32

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancel    context.CancelFunc
	failures  map[string]uint64
}

// New builds a Camera from a validated configuration.
func New(cfg *config.Config, deps Deps) (*Camera, error) {
	c := &Camera{
		cfg:      cfg,
		now:      deps.Now,
		source:   deps.Source,
		card:     deps.Card,
		bus:      deps.Bus,
		screen:   &DisplayBuffer{},
		rate:     framesource.NewRateMeter(rateWindow),
		requests: make(chan request),
		events:   events.NewSet(),
		stopped:  make(chan struct{}),
		failures: make(map[string]uint64),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.source == nil {
		c.source = framesource.NewSimulator(framesource.SimulatorConfig{
			Width:        cfg.Source.Width,
			Height:       cfg.Source.Height,
			FPS:          cfg.Source.FPS,
			CorruptEvery: cfg.Source.CorruptEvery,
		})
	}
	if c.card == nil {
		c.card = media.NewCard(cfg.Media.Root)
	}
	if c.bus == nil {
		c.bus = notifybus.New()
	}

	c.supplier = framesupplier.New(framesupplier.Config{LockWait: cfg.LockWait()})
	c.catalog = catalog.New(cfg.Media.MaxNames)
	c.hub = netstream.NewHub(c.SetNetworkClients)
	c.live = map[framesupplier.Class]*liveFeed{
		framesupplier.ClassDisplay: newLiveFeed(c.screen),
		framesupplier.ClassNetwork: newLiveFeed(c.hub),
	}

	c.recorder = recorder.New(recorder.Config{
		Camera:    cfg.Source.Camera,
		Version:   cfg.Source.FirmwareVersion,
		Now:       c.now,
		OnFailure: c.reportFailure,
	}, recorder.Deps{
		Storage: c.card,
		Source:  c.source,
		Frames:  c.supplier,
		Catalog: c.catalog,
		Bus:     c.bus,
		Notify:  func() { c.events.Post(events.RecordFrameReady) },
	})

	player := func(consumer string, autoPlay bool, sink playback.Sink) *playback.Player {
		return playback.New(playback.Config{
			Consumer:       consumer,
			AutoPlay:       autoPlay,
			Tick:           cfg.EvalTick(),
			FixedThreshold: cfg.FixedThreshold(),
			TailWindow:     cfg.Playback.TailWindowBytes,
			OnFailure:      c.reportFailure,
		}, c.card, sink, c.bus)
	}
	c.display = player(notifybus.ConsumerDisplay, false, c.screen)
	c.network = player(notifybus.ConsumerNetwork, true, c.hub)

	c.coord = coordinator.New(c.card, c.catalog, c.recorder, c.display, c.network)

	dispatcher, err := control.NewDispatcher(c.callbacks())
	if err != nil {
		return nil, err
	}
	c.dispatcher = dispatcher

	if cfg.MQTTEnabled() {
		c.emitter = emitter.NewMQTTEmitter(cfg)
	}

	return c, nil
}

// Run starts the camera and blocks until ctx is cancelled
func (c *Camera) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.isRunning = true
	c.started = time.Now()
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	if err := c.start(ctx); err != nil {
		close(c.stopped)
		return err
	}

	slog.Info("tcam core running")
	c.loop(ctx)

	slog.Info("tcam core run loop exiting")
	return nil
}

// start launches every goroutine around the owner loop.
func (c *Camera) start(ctx context.Context) error {
	slog.Info("tcam core starting",
		"instance_id", c.cfg.InstanceID,
		"media_root", c.card.Root(),
	)

	if err := c.supplier.Start(ctx); err != nil {
		return fmt.Errorf("failed to start frame supplier: %w", err)
	}
	frames, err := c.source.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start frame source: %w", err)
	}
	c.wg.Add(1)
	go c.ingest(ctx, frames)

	// Network consumer notifications
	netNotes := make(chan notifybus.Notification, 64)
	if err := c.bus.Subscribe("network", netNotes); err != nil {
		return fmt.Errorf("failed to subscribe network consumer: %w", err)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.hub.Run(ctx, netNotes)
	}()

	if c.emitter != nil {
		if err := c.startMQTT(ctx); err != nil {
			return err
		}
	}

	for class, feed := range c.live {
		c.wg.Add(1)
		go c.runLive(ctx, class, feed)
	}

	monitor := media.NewMonitor(c.card, c.cfg.CardCheckPeriod(), c.onMediaChange)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		monitor.Run(ctx)
	}()
	return nil
}

func (c *Camera) startMQTT(ctx context.Context) error {
	if err := c.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	notes := make(chan notifybus.Notification, 64)
	if err := c.bus.Subscribe("mqtt", notes); err != nil {
		return fmt.Errorf("failed to subscribe mqtt emitter: %w", err)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.emitter.Run(ctx, notes)
	}()

	c.controlHandler = control.NewHandler(c.cfg, c.emitter.Client, c.dispatcher)
	if err := c.controlHandler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}
	return nil
}

// Shutdown performs graceful shutdown of all components
func (c *Camera) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	slog.Info("shutting down tcam core")

	// 1. Stop the owner loop; it closes open sessions on the way out
	cancel()
	select {
	case <-c.stopped:
	case <-ctx.Done():
		return fmt.Errorf("owner loop did not stop: %w", ctx.Err())
	}

	// 2. Stop producing frames
	if err := c.source.Stop(); err != nil {
		slog.Error("failed to stop frame source", "error", err)
	}
	if err := c.supplier.Stop(); err != nil {
		slog.Error("failed to stop frame supplier", "error", err)
	}

	// 3. Stop the surfaces
	if c.controlHandler != nil {
		if err := c.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}
	c.mu.RLock()
	server := c.httpServer
	c.mu.RUnlock()
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("failed to stop http server", "error", err)
		}
	}
	c.hub.Close()

	// 4. Wait for goroutines to finish
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("goroutines did not finish: %w", ctx.Err())
	}

	// 5. Disconnect MQTT
	if c.emitter != nil {
		if err := c.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}
	c.bus.Close()

	c.mu.Lock()
	uptime := time.Since(c.started)
	c.isRunning = false
	c.mu.Unlock()

	slog.Info("tcam core shutdown complete", "uptime", uptime)
	return nil
}

// loop is the owner task. Every catalog, recorder, player and coordinator
// call happens here.
func (c *Camera) loop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.EvalTick())
	defer ticker.Stop()
	defer c.teardown()

	for {
		c.syncLiveArming()

		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			req.fn()
			close(req.done)
		case <-c.events.C():
			c.handleEvents(c.events.Take())
		case now := <-ticker.C:
			c.display.Tick(now)
			c.network.Tick(now)
		}
	}
}

func (c *Camera) teardown() {
	if c.recorder.Active() {
		if err := c.recorder.Stop(); err != nil {
			slog.Warn("recording not closed cleanly on shutdown", "error", err)
		}
	}
	c.display.Stop()
	c.network.Stop()
	for _, feed := range c.live {
		feed.setOpen(false)
	}
	for _, class := range []framesupplier.Class{framesupplier.ClassDisplay, framesupplier.ClassNetwork, framesupplier.ClassRecording} {
		c.supplier.Disarm(class)
	}
	close(c.stopped)
}

// handleEvents reacts to pending events. Coalesced media events are resolved
// against the card's current presence: removal first, then insertion.
func (c *Camera) handleEvents(k events.Kind) {
	if k.Has(events.MediaRemoved) {
		if c.card.Mounted() || c.catalog.Valid() {
			c.coord.MediaRemoved()
			c.bus.Publish(notifybus.Notification{Kind: notifybus.MediaChanged, Present: false})
		}
	}
	if k.Has(events.MediaInserted) && c.card.Present() && !c.card.Mounted() {
		c.mountMedia()
	}
	if k.Has(events.RecordFrameReady) {
		c.recorder.Consume()
	}
}

func (c *Camera) mountMedia() {
	if err := c.ensureCatalog(); err != nil {
		c.reportFailure(notifybus.ConsumerAll, "mount media", err)
		return
	}
	c.bus.Publish(notifybus.Notification{Kind: notifybus.MediaChanged, Present: true})
	c.publishListing(catalog.RootIndex)
}

// ensureCatalog mounts the card and rebuilds the catalog when it is not valid.
func (c *Camera) ensureCatalog() error {
	if err := c.card.Mount(); err != nil {
		return err
	}
	if c.catalog.Valid() {
		return nil
	}
	if err := c.catalog.Rebuild(c.card); err != nil {
		return fmt.Errorf("rebuild catalog: %w", err)
	}
	st := c.catalog.Stats()
	slog.Info("catalog rebuilt", "dirs", st.Dirs, "files", st.Files)
	return nil
}

// publishListing sends CatalogReady for dirIdx. Errors are logged only.
func (c *Camera) publishListing(dirIdx int) []string {
	names, err := c.catalog.Names(dirIdx)
	if err != nil {
		slog.Warn("catalog listing failed", "dir_index", dirIdx, "error", err)
		return nil
	}
	n := notifybus.Notification{Kind: notifybus.CatalogReady, Names: names}
	if dirIdx != catalog.RootIndex {
		n.Dir, _ = c.catalog.DirName(dirIdx)
	}
	c.bus.Publish(n)
	return names
}

func (c *Camera) onMediaChange(present bool) {
	if present {
		c.events.Post(events.MediaInserted)
	} else {
		c.events.Post(events.MediaRemoved)
	}
}

// SetNetworkClients records how many network clients are connected. Live
// network frames are only distributed while at least one is.
func (c *Camera) SetNetworkClients(n int) {
	c.netClients.Store(int32(n))
	c.events.Post(events.ConsumersChanged)
}

// syncLiveArming arms a live class only while its consumer wants live frames:
// display unless it is playing back, network while clients are connected and
// it is not playing back.
func (c *Camera) syncLiveArming() {
	c.setArmed(framesupplier.ClassDisplay, !c.display.Active())
	c.setArmed(framesupplier.ClassNetwork, c.netClients.Load() > 0 && !c.network.Active())
}

func (c *Camera) setArmed(class framesupplier.Class, want bool) {
	if c.supplier.Armed(class) == want {
		return
	}
	feed := c.live[class]
	if want {
		c.supplier.Arm(class, func() { feed.set.Post(events.FrameReady) })
		feed.setOpen(true)
	} else {
		// Close first: a frame already leased must not follow a playback frame
		feed.setOpen(false)
		c.supplier.Disarm(class)
	}
	slog.Debug("live consumer arming changed", "class", class, "armed", want)
}

// ingest feeds source frames to the supplier.
func (c *Camera) ingest(ctx context.Context, frames <-chan *framesource.Frame) {
	defer c.wg.Done()

	slog.Info("frame ingest started")
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				slog.Info("frame source channel closed")
				return
			}
			c.rate.Observe(c.now())
			c.supplier.Publish(f)
		}
	}
}

// runLive forwards live frames of one class to its sink. It re-checks the
// slots on every wake-up rather than counting them.
func (c *Camera) runLive(ctx context.Context, class framesupplier.Class, feed *liveFeed) {
	defer c.wg.Done()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-feed.set.C():
		}
		if !feed.set.TakeOnly(events.FrameReady).Has(events.FrameReady) {
			continue
		}
		lease, ok := c.supplier.Acquire(class, last)
		if !ok {
			continue
		}
		f := cloneFrame(lease.Frame())
		lease.Release()
		last = f.Seq

		feed.deliver(f)
	}
}

// exec runs fn on the owner goroutine and waits for it.
func (c *Camera) exec(ctx context.Context, fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	<-req.done
	return nil
}

// reportFailure publishes an asynchronous failure to its consumer.
func (c *Camera) reportFailure(consumer, op string, err error) {
	cat := Classify(err)
	slog.Error("operation failed", "consumer", consumer, "op", op, "category", cat, "error", err)

	c.mu.Lock()
	c.failures[cat.String()]++
	c.mu.Unlock()

	c.bus.Publish(notifybus.Notification{
		Kind:     notifybus.OperationFailed,
		Consumer: consumer,
		Reason:   fmt.Sprintf("%s: %v", op, err),
		Category: cat.String(),
	})
}
