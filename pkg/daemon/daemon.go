// Package daemon runs loop-pulse in the background: it follows the
// Nightscout site on the staleness-adaptive schedule, keeps the shared
// snapshot current, and fans it out to the disk cache, the health file, the
// not-looping alert, MQTT and the HTTP API. A Unix socket accepts control
// commands from the CLI.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/alert"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/api"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/cache"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/careportal"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/glucose"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/collectors/share"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/config"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/data"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/monitor"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/mqtt"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/nightscout"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/poll"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/state"
)

const (
	maintenanceInterval = 5 * time.Minute
	healthInterval      = 30 * time.Second
	updateBuffer        = 16
)

// Site is everything the daemon reads from a Nightscout site.
// *nightscout.Client and MockSite satisfy it.
type Site interface {
	monitor.DeviceStatusClient
	glucose.EntriesClient
	careportal.TreatmentsClient
}

// Options tunes a Daemon beyond the config file.
type Options struct {
	Version string
	// UseMocks replaces the Nightscout site with MockSite, simulates
	// Dexcom Share when it is enabled, and disables MQTT and alerts.
	UseMocks bool
	Logger   *slog.Logger
	// Site overrides the Nightscout client.
	Site Site
	// Embedded runs the pipeline inside another process, such as the TUI:
	// no PID file, IPC socket, HTTP API or health file.
	Embedded bool
}

// Daemon owns every long-running component.
type Daemon struct {
	cfg  *config.Config
	opts Options
	log  *slog.Logger

	state     *state.Store
	series    *data.Store
	cache     *cache.Store
	monitor   *monitor.Monitor
	scheduler *poll.Scheduler
	executor  *poll.SerialExecutor
	registry  *collectors.Registry
	runner    *collectors.Runner
	updates   chan collectors.Update
	alert     *alert.Evaluator
	api       *api.Server

	mqttClient *mqtt.Client
	publisher  *mqtt.StatusPublisher

	loopMu   sync.Mutex
	lastLoop *nightscout.LoopState

	started  time.Time
	quit     chan struct{}
	quitOnce sync.Once
}

// New builds a daemon from cfg without starting anything.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	d := &Daemon{
		cfg:     cfg,
		opts:    opts,
		log:     log.With("component", "daemon"),
		state:   state.NewStore(cfg.General.Units),
		updates: make(chan collectors.Update, updateBuffer),
		quit:    make(chan struct{}),
	}
	d.series = data.NewStore(data.StoreConfig{DefaultRetention: cfg.General.DataRetention.Duration})

	store, err := cache.NewStore(cache.StoreConfig{
		Dir:        cfg.General.CacheDir,
		DefaultTTL: cfg.General.SnapshotTTL.Or(15 * time.Minute),
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	d.cache = store

	site, err := d.site()
	if err != nil {
		return nil, err
	}

	d.monitor, err = monitor.New(monitor.Config{
		Client:          site,
		State:           d.state,
		Series:          d.series,
		StatusCount:     cfg.Nightscout.StatusCount,
		NotLoopingAfter: time.Duration(cfg.Thresholds.NotLoopingMinutes) * time.Minute,
		Logger:          log,
		Listeners:       []monitor.Listener{d.logLoopChange},
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	d.executor = poll.NewSerialExecutor(updateBuffer)
	d.scheduler, err = poll.NewScheduler(poll.Config{
		Fetcher:      d.monitor,
		Timer:        poll.NewRealTimer(),
		Clock:        poll.SystemClock{},
		Executor:     d.executor,
		Logger:       log,
		InitialDelay: cfg.Poll.InitialDelay.Or(poll.DefaultInitialDelay),
		RetryDelay:   cfg.Poll.RetryDelay.Or(poll.DefaultRetryDelay),
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	d.registry = collectors.NewRegistry()
	if err := d.registerCollectors(site); err != nil {
		return nil, err
	}
	d.runner = collectors.NewRunner(d.registry, d.updates, collectors.WithLogger(log))

	if cfg.Alert.Enabled && !opts.UseMocks {
		sender, err := alert.NewMailgunSender(alert.MailgunConfig{
			Domain:     cfg.Alert.MailgunDomain,
			APIKey:     cfg.Alert.MailgunAPIKey,
			Sender:     cfg.Alert.Sender,
			Recipients: cfg.Alert.Recipients,
		})
		if err != nil {
			return nil, fmt.Errorf("daemon: %w", err)
		}
		d.alert = alert.NewEvaluator(sender, alert.Config{
			Threshold:      time.Duration(cfg.Thresholds.NotLoopingMinutes) * time.Minute,
			RepeatInterval: cfg.Alert.RepeatInterval.Duration,
			Units:          cfg.General.Units,
			Logger:         log,
		})
	}

	if cfg.Daemon.HTTPAddr != "" && !opts.Embedded {
		d.api, err = api.NewServer(api.Config{
			Addr:       cfg.Daemon.HTTPAddr,
			State:      d.state,
			Series:     d.series,
			PollStatus: d.scheduler.Status,
			Refresh:    d.scheduler.ManualRefresh,
			Health:     func() any { return d.Health() },
			Logger:     log,
		})
		if err != nil {
			return nil, fmt.Errorf("daemon: %w", err)
		}
	}
	return d, nil
}

func (d *Daemon) site() (Site, error) {
	switch {
	case d.opts.Site != nil:
		return d.opts.Site, nil
	case d.opts.UseMocks:
		d.log.Info("using mock nightscout site")
		return MockSite{}, nil
	}
	ns := d.cfg.Nightscout
	if ns.URL == "" {
		return nil, errors.New("daemon: nightscout.url is required")
	}
	c, err := nightscout.New(nightscout.Config{
		URL:               ns.URL,
		Token:             ns.Token,
		APISecret:         ns.APISecret,
		Timeout:           ns.Timeout.Duration,
		RequestsPerMinute: ns.RequestsPerMinute,
		Logger:            d.log,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	return c, nil
}

func (d *Daemon) registerCollectors(site Site) error {
	cc := d.cfg.Collectors
	var list []collectors.Collector
	if cc.Glucose.Enabled {
		list = append(list, glucose.New(glucose.Config{
			Interval: cc.Glucose.Interval.Duration,
			Count:    d.cfg.Nightscout.EntryCount,
		}, site))
	}
	if cc.Careportal.Enabled {
		list = append(list, careportal.New(careportal.Config{Interval: cc.Careportal.Interval.Duration}, site))
	}
	if sh := d.cfg.Share; sh.Enabled {
		if d.opts.UseMocks {
			list = append(list, collectors.NewMockCollector("share", sh.Interval.Or(share.DefaultInterval),
				collectors.WithCollectFunc(MockSite{}.ShareReadings)))
		} else {
			client := share.NewClient(share.ServerURL(sh.Server), sh.Username, sh.Password, nil)
			list = append(list, share.New(share.Config{Interval: sh.Interval.Duration}, client))
		}
	}
	for _, c := range list {
		if err := d.registry.Register(c); err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
	}
	return nil
}

// logLoopChange logs the loop state whenever a fetch changes it. Anything
// other than looping is a warning.
func (d *Daemon) logLoopChange(snap state.Snapshot) {
	if snap.Loop == nil {
		return
	}
	cur := snap.Loop.State
	d.loopMu.Lock()
	prev := d.lastLoop
	d.lastLoop = &cur
	d.loopMu.Unlock()
	if prev != nil && *prev == cur {
		return
	}

	level := slog.LevelInfo
	if cur != nightscout.Looping {
		level = slog.LevelWarn
	}
	attrs := []any{"state", cur, "loop_time", snap.Loop.LoopTime}
	if prev != nil {
		attrs = append(attrs, "previous", *prev)
	}
	d.log.Log(context.Background(), level, "loop state changed", attrs...)
}

// State returns the shared snapshot store.
func (d *Daemon) State() *state.Store { return d.state }

// Series returns the time-series store.
func (d *Daemon) Series() *data.Store { return d.series }

// Refresh asks the scheduler for an immediate device status fetch.
func (d *Daemon) Refresh() { d.scheduler.ManualRefresh() }

// Snapshot returns the current snapshot with the scheduler status attached.
func (d *Daemon) Snapshot() state.Snapshot {
	snap := d.state.Snapshot()
	ps := d.scheduler.Status()
	snap.Poll = &ps
	return snap
}

// Health reports the daemon's current condition.
func (d *Daemon) Health() Health {
	snap := d.state.Snapshot()
	h := Health{
		PID:             os.Getpid(),
		Version:         d.opts.Version,
		Started:         d.started,
		Poll:            d.scheduler.Status(),
		Collectors:      d.registry.AllStatus(),
		SnapshotVersion: snap.Version,
		LastError:       snap.LastError,
		LastPrune:       d.series.PruneStats(),
		Written:         time.Now(),
	}
	if !d.started.IsZero() {
		h.Uptime = time.Since(d.started).Truncate(time.Second).String()
	}
	if d.mqttClient != nil {
		up := d.mqttClient.IsConnected()
		h.MQTTConnected = &up
	}
	if d.alert != nil {
		h.Alerting = d.alert.Alerting()
	}
	if d.api != nil {
		h.WSClients = d.api.Hub().Len()
	}
	return h
}

// HandleCommand answers IPC commands.
func (d *Daemon) HandleCommand(cmd string) (any, error) {
	switch cmd {
	case CmdHealth:
		return d.Health(), nil
	case CmdStatus:
		return d.Snapshot(), nil
	case CmdRefresh:
		d.Refresh()
		return map[string]string{"status": "refresh requested"}, nil
	case CmdQuit:
		d.Quit()
		return map[string]string{"status": "shutting down"}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownCommand, cmd)
}

// Quit asks Run to return.
func (d *Daemon) Quit() {
	d.quitOnce.Do(func() { close(d.quit) })
}

// warm seeds the state from the last persisted snapshot so a restart does
// not start blank.
func (d *Daemon) warm() {
	snap, ok := cache.GetTyped[state.Snapshot](d.cache, cache.KeySnapshot)
	if !ok {
		return
	}
	snap.Poll = nil
	d.state.Seed(snap)
	d.log.Info("warmed state from cache", "updated", snap.Updated)
}

// persist writes the snapshot to the cache and refreshes the health file.
func (d *Daemon) persist(snap state.Snapshot) {
	ps := d.scheduler.Status()
	snap.Poll = &ps
	if err := cache.PutTyped(d.cache, cache.KeySnapshot, snap); err != nil {
		d.log.Warn("persist snapshot failed", "error", err)
	}
	d.writeHealth()
}

func (d *Daemon) writeHealth() {
	if d.opts.Embedded {
		return
	}
	h := d.Health()
	if err := WriteHealthFile(d.cfg.Daemon.HealthFile, h); err != nil {
		d.log.Warn("write health file failed", "error", err)
	}
	if err := cache.PutTyped(d.cache, cache.KeyStatus, h); err != nil {
		d.log.Debug("cache health failed", "error", err)
	}
}

// maintain prunes expired series points and sweeps the cache directory.
func (d *Daemon) maintain() {
	st := d.series.Prune()
	swept := d.cache.Sweep()
	if st.PointsRemoved > 0 || swept > 0 {
		d.log.Debug("maintenance", "points_removed", st.PointsRemoved, "series_pruned", st.SeriesPruned, "cache_swept", swept)
	}
}

// sink is a snapshot consumer started by Run.
type sink func(ctx context.Context, updates <-chan state.Snapshot)

// Run starts every component and blocks until ctx is cancelled or QUIT is
// received, then stops them in dependency order.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.opts.Embedded {
		if err := AcquirePID(d.cfg.Daemon.PIDFile); err != nil {
			return err
		}
		defer func() {
			if err := ReleasePID(d.cfg.Daemon.PIDFile); err != nil {
				d.log.Warn("release pid file failed", "error", err)
			}
		}()
	}

	d.started = time.Now()
	d.warm()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	sinks := []sink{d.persistLoop}
	if d.alert != nil {
		sinks = append(sinks, d.alert.Run)
	}
	if d.cfg.MQTT.Enabled && !d.opts.UseMocks {
		if err := d.connectMQTT(); err != nil {
			d.log.Warn("mqtt unavailable, continuing without it", "error", err)
		} else {
			sinks = append(sinks, d.publisher.Run)
		}
	}
	if d.api != nil {
		sinks = append(sinks, func(ctx context.Context, ch <-chan state.Snapshot) {
			d.api.Hub().Run(ctx, ch, func(s state.Snapshot) state.Snapshot {
				ps := d.scheduler.Status()
				s.Poll = &ps
				return s
			})
		})
		g.Go(func() error { return d.api.ListenAndServe(gctx) })
	}

	var unsubs []func()
	for _, s := range sinks {
		s := s
		ch, unsub := d.state.Subscribe()
		unsubs = append(unsubs, unsub)
		g.Go(func() error {
			s(gctx, ch)
			return nil
		})
	}

	g.Go(func() error {
		d.monitor.Consume(gctx, d.updates)
		return nil
	})
	g.Go(func() error {
		d.maintenanceLoop(gctx)
		return nil
	})
	if err := d.runner.Start(gctx); err != nil {
		cancel()
		return fmt.Errorf("daemon: start collectors: %w", err)
	}
	d.scheduler.Start()

	var ipc *IPCServer
	if !d.opts.Embedded {
		ipc = NewIPCServer(d.cfg.Daemon.SocketPath, d, d.log)
		if err := ipc.Start(); err != nil {
			d.log.Warn("ipc unavailable", "error", err)
			ipc = nil
		}
	}

	d.log.Info("daemon started", "pid", os.Getpid(), "collectors", d.registry.List(), "http", d.cfg.Daemon.HTTPAddr)

	select {
	case <-gctx.Done():
	case <-d.quit:
		d.log.Info("quit requested")
	}

	d.scheduler.Stop()
	d.runner.Stop()
	if ipc != nil {
		ipc.Stop()
	}
	cancel()
	for _, u := range unsubs {
		u()
	}
	err := g.Wait()
	d.executor.Close()
	if d.mqttClient != nil {
		d.mqttClient.Close()
	}
	d.persist(d.state.Snapshot())
	d.log.Info("daemon stopped")
	return err
}

func (d *Daemon) connectMQTT() error {
	m := d.cfg.MQTT
	c, err := mqtt.Connect(mqtt.ClientConfig{
		Broker:   m.Broker,
		ClientID: m.ClientID,
		Username: m.Username,
		Password: m.Password,
		Logger:   d.log,
	})
	if err != nil {
		return err
	}
	d.mqttClient = c
	d.publisher = mqtt.NewStatusPublisher(c.Native(), m.TopicPrefix, d.log)
	return nil
}

func (d *Daemon) persistLoop(ctx context.Context, updates <-chan state.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			d.persist(snap)
		}
	}
}

func (d *Daemon) maintenanceLoop(ctx context.Context) {
	health := time.NewTicker(healthInterval)
	defer health.Stop()
	prune := time.NewTicker(maintenanceInterval)
	defer prune.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-health.C:
			d.writeHealth()
		case <-prune.C:
			d.maintain()
		}
	}
}

// RunOnce collects every source once and fetches the device status,
// without the scheduler or any sink. The CLI uses it for -status.
func (d *Daemon) RunOnce(ctx context.Context) (state.Snapshot, error) {
	d.warm()
	for _, name := range d.registry.List() {
		v, err := d.runner.RunOnce(ctx, name)
		d.monitor.Apply(collectors.Update{Source: name, Data: v, Timestamp: time.Now(), Error: err})
	}
	if _, err := d.monitor.Fetch(ctx); err != nil {
		return d.state.Snapshot(), err
	}
	snap := d.state.Snapshot()
	if err := cache.PutTyped(d.cache, cache.KeySnapshot, snap); err != nil {
		d.log.Debug("persist snapshot failed", "error", err)
	}
	return snap, nil
}
