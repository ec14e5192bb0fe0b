// loop-pulse follows a Nightscout site for a remote looper.
//
// It polls loop status on a staleness-adaptive schedule, keeps glucose,
// insulin and careportal data current, and surfaces it through an
// interactive TUI, a Starship prompt segment, an HTTP/websocket API, MQTT
// and a not-looping mail alert. It can also hand remote commands (bolus,
// meal, override, temp target, custom action) to the looping phone.
//
// Usage:
//
//	loop-pulse [flags]
//
// Flags:
//
//	-config string    Path to configuration file (default: ~/.config/loop-pulse/config.toml)
//	-daemon           Run background polling daemon
//	-tui              Launch interactive Bubbletea TUI
//	-status           Fetch once and print the status table
//	-format string    Output format for -status: text, json or yaml (default "text")
//	-starship         Output one-line Starship module from the cached snapshot
//	-refresh          Ask a running daemon to fetch now
//	-remote string    Send a remote command (bolus|meal|override|temptarget|custom)
//	-value string     Amount or preset name for -remote
//	-note string      Free-text note for -remote meal
//	-yes              Skip the typed confirmation for -remote
//	-use-mocks        Use a simulated Nightscout site instead of real API calls
//	-verbose          Enable verbose logging
//	-version          Print version and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gitlab.com/tinyland/lab/loop-pulse/pkg/app"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/components"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/config"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/daemon"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/starship"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/terminal"
	"gitlab.com/tinyland/lab/loop-pulse/pkg/widgets"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

// ipcTimeout bounds every CLI-to-daemon request.
const ipcTimeout = 5 * time.Second

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		runDaemon   = flag.Bool("daemon", false, "Run background polling daemon")
		runTUI      = flag.Bool("tui", false, "Launch interactive Bubbletea TUI")
		showStatus  = flag.Bool("status", false, "Fetch once and print the status table")
		format      = flag.String("format", "text", "Output format for -status (text|json|yaml)")
		starshipOut = flag.Bool("starship", false, "Output one-line Starship module from the cached snapshot")
		refresh     = flag.Bool("refresh", false, "Ask a running daemon to fetch loop status now")
		remoteKind  = flag.String("remote", "", "Send a remote command (bolus|meal|override|temptarget|custom)")
		remoteValue = flag.String("value", "", "Amount or preset name for -remote")
		remoteNote  = flag.String("note", "", "Free-text note for -remote meal")
		assumeYes   = flag.Bool("yes", false, "Skip the typed confirmation for -remote")
		useMocks    = flag.Bool("use-mocks", false, "Use a simulated Nightscout site instead of real API calls")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("loop-pulse %s (%s) built %s\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// The starship module runs on every prompt: no log file, no signals.
	if *starshipOut {
		fmt.Print(starship.Render(starship.Config{
			CacheDir:   cfg.General.CacheDir,
			Thresholds: thresholds(cfg),
			Plain:      terminal.PlainPrompt(),
		}))
		return
	}

	// The TUI owns the terminal, so it logs to the file only.
	var console io.Writer = os.Stderr
	if *runTUI {
		console = nil
	}
	logger, closeLog, err := setupLogging(cfg, console, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	opts := daemon.Options{Version: version, UseMocks: *useMocks, Logger: logger}

	switch {
	case *refresh:
		if err := sendRefresh(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("refresh requested")

	case *remoteKind != "":
		req := remoteRequest{Kind: *remoteKind, Value: *remoteValue, Note: *remoteNote, AssumeYes: *assumeYes}
		if err := runRemote(ctx, cfg, req, os.Stdin, os.Stdout, logger); err != nil {
			fmt.Fprintf(os.Stderr, "remote: %v\n", err)
			os.Exit(1)
		}

	case *runTUI:
		if err := runDashboard(ctx, cfg, opts); err != nil {
			logger.Error("TUI error", "error", err)
			fmt.Fprintf(os.Stderr, "tui: %v\n", err)
			os.Exit(1)
		}

	case *runDaemon:
		d, err := daemon.New(cfg, opts)
		if err != nil {
			logger.Error("daemon init failed", "error", err)
			os.Exit(1)
		}
		logger.Info("starting loop-pulse daemon",
			"nightscout", cfg.Nightscout.URL,
			"config", *configPath,
			"mocks", *useMocks,
		)
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("daemon error", "error", err)
			os.Exit(1)
		}

	case *showStatus:
		fallthrough
	default:
		d, err := daemon.New(cfg, opts)
		if err != nil {
			logger.Error("daemon init failed", "error", err)
			os.Exit(1)
		}
		snap, fetchErr := d.RunOnce(ctx)
		if fetchErr != nil {
			logger.Warn("device status fetch failed", "error", fetchErr)
			snap.LastError = fetchErr.Error()
		}
		out, err := renderStatus(snap, statusOptions{
			Format:     *format,
			Units:      cfg.General.Units,
			Thresholds: thresholds(cfg),
			Width:      terminal.Width(os.Stdout),
			Color:      terminal.ColorEnabled(os.Stdout),
			Now:        time.Now(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Print(out)
		if fetchErr != nil {
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFromFile(path)
}

// setupLogging writes to the daemon log file and, when console is non-nil,
// to the console as well.
func setupLogging(cfg *config.Config, console io.Writer, verbose bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Daemon.LogFile), 0o755); err != nil {
		return nil, nil, err
	}
	logFile, err := os.OpenFile(cfg.Daemon.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = logFile
	if console != nil {
		w = io.MultiWriter(console, logFile)
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return logger, func() { logFile.Close() }, nil
}

func thresholds(cfg *config.Config) components.Thresholds {
	t := cfg.Thresholds
	return components.Thresholds{UrgentLow: t.UrgentLow, Low: t.Low, High: t.High, UrgentHigh: t.UrgentHigh}
}

// runDashboard runs the polling pipeline in-process and attaches the TUI to
// its snapshot stream. r in the TUI triggers a manual refresh.
func runDashboard(ctx context.Context, cfg *config.Config, opts daemon.Options) error {
	if !terminal.Interactive(os.Stdout) {
		return errors.New("stdout is not a terminal")
	}
	opts.Embedded = true
	d, err := daemon.New(cfg, opts)
	if err != nil {
		return err
	}

	updates, unsub := d.State().Subscribe()
	defer unsub()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	wopts := widgets.Options{Thresholds: thresholds(cfg)}
	appCfg := app.DefaultConfig()
	appCfg.Updates = updates
	appCfg.Refresh = d.Refresh
	initial := d.Snapshot()
	appCfg.Initial = &initial

	model := app.NewAppModel(appCfg,
		widgets.NewLoopWidget(wopts),
		widgets.NewGlucoseGraph(wopts, d.Series()),
		widgets.NewStatusTable(wopts),
	)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()
	if errors.Is(runErr, tea.ErrProgramKilled) && ctx.Err() != nil {
		runErr = nil
	}

	d.Quit()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return runErr
}

func sendRefresh(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, ipcTimeout)
	defer cancel()
	_, err := daemon.NewIPCClient(cfg.Daemon.SocketPath).Send(ctx, daemon.CmdRefresh)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	return nil
}
