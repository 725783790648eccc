package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"kizuna/internal/batch"
	"kizuna/internal/cli/history"
	"kizuna/internal/cli/router"
	"kizuna/internal/collab"
	"kizuna/internal/domain"
	"kizuna/internal/handlers"
	"kizuna/internal/platform/clock"
	"kizuna/internal/platform/config"
	"kizuna/internal/platform/id"
	"kizuna/internal/platform/logging"
	"kizuna/internal/queue"
	"kizuna/internal/security"
	uiapp "kizuna/internal/ui/app"
)

// Options tune process-wide construction from the root command's flags.
type Options struct {
	Verbose    bool
	Quiet      bool
	ConfigPath string // empty selects the platform default
}

// App is the wired process: one gate, one handler per subsystem, one queue
// scheduler, all sharing the clock and logger. Background loops run until
// Close.
type App struct {
	Router    *router.Router
	Gate      *security.Gate
	Discover  *handlers.DiscoverHandler
	Transfer  *handlers.TransferHandler
	Streaming *handlers.StreamingHandler
	Exec      *handlers.ExecHandler
	Clipboard *handlers.ClipboardHandler
	Status    *handlers.StatusHandler
	Queue     *queue.Scheduler
	Config    config.CLIConfig
	ConfigPath string
	Logger    *zap.Logger

	cancel     context.CancelFunc
	queueStore *queue.Store
	trustStore *collab.TrustStore
}

func New(ctx context.Context, opts Options) (*App, error) {
	logger, err := logging.New(logging.Options{Verbose: opts.Verbose, Quiet: opts.Quiet})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath, err = config.Path()
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
	}
	if err := config.EnsureDefaultFile(cfgPath); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	dataDir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	clk := clock.SystemClock{}
	ids := id.Random{}

	trustStore, err := collab.NewTrustStore(filepath.Join(dataDir, "trust.db"))
	if err != nil {
		return nil, fmt.Errorf("open trust store: %w", err)
	}
	gate := security.NewGate(trustStore, clk)

	ctx, cancel := context.WithCancel(ctx)
	session, err := gate.Authenticate(ctx)
	if err != nil {
		cancel()
		_ = trustStore.Close()
		return nil, err
	}

	discovery := collab.NewSelfDiscovery(session.DeviceID.String())
	discover := handlers.NewDiscoverHandler(discovery, gate, clk, logger)

	engine := collab.NewLoopbackTransfer(filepath.Join(dataDir, "spool"), clk)
	transfer := handlers.NewTransferHandler(engine, gate, clk, ids, logger)
	go transfer.Run(ctx)

	streaming := handlers.NewStreamingHandler(collab.NewSimStreamer(), gate, clk, ids, logger)
	go streaming.Run(ctx)

	execHandler := handlers.NewExecHandler(collab.LocalExecutor{}, gate, clk, ids, logger)
	clipboard := handlers.NewClipboardHandler(collab.NewMemClipboard(), gate, clk, ids, logger)

	queueStore, err := queue.NewStore(filepath.Join(dataDir, "queue.db"))
	if err != nil {
		cancel()
		_ = trustStore.Close()
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	scheduler, err := queue.NewScheduler(ctx, queueStore, transfer, clk, ids, logger, queue.DefaultConcurrency)
	if err != nil {
		cancel()
		_ = queueStore.Close()
		_ = trustStore.Close()
		return nil, err
	}
	go scheduler.Run(ctx)

	orchestrator := batch.NewOrchestrator(
		&transferSender{transfers: transfer, settings: cfg.TransferSettings},
		clk, ids, logger,
	)

	histPath, err := history.DefaultPath()
	if err != nil {
		histPath = filepath.Join(dataDir, "history")
	}
	hist, err := history.Open(histPath)
	if err != nil {
		logger.Warn("open history", zap.Error(err))
		hist = nil
	}

	status := handlers.NewStatusHandler(discover, scheduler, gate, transfer, clk,
		transfer, streaming, execHandler, clipboard)

	app := &App{
		Gate:       gate,
		Discover:   discover,
		Transfer:   transfer,
		Streaming:  streaming,
		Exec:       execHandler,
		Clipboard:  clipboard,
		Status:     status,
		Queue:      scheduler,
		Config:     cfg,
		ConfigPath: cfgPath,
		Logger:     logger,
		cancel:     cancel,
		queueStore: queueStore,
		trustStore: trustStore,
	}
	var stdin io.Reader
	if info, err := os.Stdin.Stat(); err == nil && info.Mode()&os.ModeCharDevice == 0 {
		stdin = os.Stdin
	}
	app.Router = router.New(router.Deps{
		Discover:   discover,
		Transfer:   transfer,
		Streaming:  streaming,
		Exec:       execHandler,
		Clipboard:  clipboard,
		Status:     status,
		Queue:      scheduler,
		Batch:      orchestrator,
		Gate:       gate,
		Config:     &app.Config,
		History:    hist,
		Clock:      clk,
		Logger:     logger,
		ConfigPath: cfgPath,
		Stdin:      stdin,
	})
	return app, nil
}

// Close stops background loops and releases the stores.
func (a *App) Close() {
	a.cancel()
	if a.queueStore != nil {
		_ = a.queueStore.Close()
	}
	if a.trustStore != nil {
		_ = a.trustStore.Close()
	}
	_ = a.Logger.Sync()
}

// RunTUI starts the interactive interface. Bubble Tea restores the terminal
// (raw mode off, alt screen left, cursor shown) on every exit path,
// panics included.
func RunTUI(ctx context.Context, app *App) error {
	updates, err := config.Watch(ctx, app.ConfigPath, app.Logger)
	if err != nil {
		app.Logger.Warn("config watch unavailable", zap.Error(err))
		updates = nil
	}

	startDir, err := os.Getwd()
	if err != nil {
		startDir = "."
	}
	model := uiapp.NewModel(uiapp.Ports{
		Discover:      app.Discover,
		Transfer:      app.Transfer,
		Streaming:     app.Streaming,
		Exec:          app.Exec,
		Clipboard:     app.Clipboard,
		Trust:         app.Gate,
		Queue:         app.Queue,
		Config:        app.Config,
		ConfigPath:    app.ConfigPath,
		ConfigUpdates: updates,
		QueueCapacity: queue.DefaultConcurrency,
	}, startDir)

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	app.Discover.StopContinuousDiscovery()
	return nil
}

// transferSender adapts the transfer handler to the batch orchestrator's
// one-call contract: start a send and block until it lands in a terminal
// state.
type transferSender struct {
	transfers *handlers.TransferHandler
	settings  config.TransferSettings
}

func (s *transferSender) SendAndWait(ctx context.Context, file string, peer domain.PeerID) error {
	updates := s.transfers.Subscribe()
	op, err := s.transfers.Send(ctx, []string{file}, peer, s.settings.Compression, s.settings.Encryption)
	if err != nil {
		return err
	}
	// Notifier updates are dropped under pressure; poll the snapshot so a
	// lost terminal event cannot wedge the batch worker.
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()
	for {
		var update domain.OperationStatus
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			snap, found := s.transfers.GetOperation(op.OperationID)
			if !found || !snap.State.Terminal() {
				continue
			}
			update = snap
		case u, ok := <-updates:
			if !ok {
				return fmt.Errorf("transfer stream closed")
			}
			if u.OperationID != op.OperationID || !u.State.Terminal() {
				continue
			}
			update = u
		}
		if update.State == domain.StateFailed {
			return fmt.Errorf("%s", update.FailureReason)
		}
		return nil
	}
}
