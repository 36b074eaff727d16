package tui

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/fornellas/slogxt/log"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/fornellas/cnccon/widget"
	"github.com/fornellas/cnccon/worker_manager"
)

type ConsoleOptions struct {
	// Additional logger for the application logs, eg: a debug file.
	AppLogger *slog.Logger
}

// Console is a terminal user interface for a laser widget.
type Console struct {
	laser   *widget.Laser
	options *ConsoleOptions
}

func NewConsole(laser *widget.Laser, options *ConsoleOptions) *Console {
	if options == nil {
		options = &ConsoleOptions{}
	}
	return &Console{
		laser:   laser,
		options: options,
	}
}

// Run starts all workers from workerManager, mounts the laser widget and runs the application until
// Ctrl-C is pressed or any worker returns.
func (c *Console) Run(ctx context.Context, workerManager *worker_manager.WorkerManager) (err error) {
	// Application
	app := tview.NewApplication()
	app.EnableMouse(true)

	// Context & Logging
	consoleCtx, consoleLogger := log.MustWithGroup(ctx, "Console")
	logsPrimitive := NewLogsPrimitive(app)
	logsHandler := NewLogsHandler(
		log.NewTerminalTreeHandler(
			tview.ANSIWriter(logsPrimitive),
			&log.TerminalHandlerOptions{
				// tview.TextView does not handle emojis correctly: drawing is corrupted.
				DisableGroupEmoji: true,
				ForceColor:        true,
			},
		),
		consoleLogger.Handler(),
	)
	appHandlers := []slog.Handler{
		logsHandler,
	}
	if c.options.AppLogger != nil {
		appHandlers = append(appHandlers, c.options.AppLogger.Handler())
	}
	appLogger := slog.New(log.NewMultiHandler(appHandlers...))
	appCtx := log.WithLogger(consoleCtx, appLogger)

	// Primitives
	laserPrimitive := NewLaserPrimitive(appCtx, app, c.laser)
	rootFlex := tview.NewFlex()
	rootFlex.SetDirection(tview.FlexRow)
	rootFlex.AddItem(laserPrimitive, 0, 1, true)
	rootFlex.AddItem(logsPrimitive, 0, 1, false)
	app.SetRoot(rootFlex, true)

	refresh := func() {
		view := c.laser.View()
		laserPrimitive.Refresh(view)
		if view.Fullscreen {
			rootFlex.ResizeItem(logsPrimitive, 0, 0)
		} else {
			rootFlex.ResizeItem(logsPrimitive, 0, 1)
		}
	}
	refresh()
	// Changes may come from the event loop itself (eg: input fields), where QueueUpdateDraw blocks.
	c.laser.SetChangedFunc(func() { go app.QueueUpdateDraw(refresh) })
	defer c.laser.SetChangedFunc(nil)

	// Laser
	workerManager.AddWorker("Laser", func(ctx context.Context) error {
		if err := c.laser.Mount(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})

	// Start
	workerManager.Start(appCtx)

	// App Input
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			appLogger.Info("Exiting")
			workerManager.Cancel(appCtx)
			return nil
		case tcell.KeyCtrlT:
			c.laser.ToggleLaserTest()
			return nil
		case tcell.KeyCtrlF:
			c.laser.ToggleFullscreen()
			return nil
		case tcell.KeyCtrlN:
			c.laser.ToggleMinimized()
			return nil
		case tcell.KeyCtrlO:
			if err := c.laser.LaserTestOff(); err != nil {
				appLogger.Error("Laser off failed", "err", err)
			}
			return nil
		}
		return event
	})

	// Exit
	var exitMu sync.Mutex
	exitMu.Lock()
	go func() {
		logger := log.MustLogger(appCtx)
		err = errors.Join(err, workerManager.Wait(appCtx))
		logger.Info("Stopping App")
		logsHandler.Disable()
		app.Stop()
		exitMu.Unlock()
	}()
	defer func() { exitMu.Lock() }()
	defer func() {
		logger := log.MustLogger(appCtx)

		if r := recover(); r != nil {
			logger.Debug("Panic", "recovered", r, "stack", string(debug.Stack()))
		}

		// After Application.Run returns, any pending or future calls to Application.QueueUpdate
		// will block indefinitely.
		// This spins the app again using a simulated screen, which enables any pending
		// Application.QueueUpdate to be processed, unblocking them, so that workers can properly
		// shutdown.
		app.SetScreen(tcell.NewSimulationScreen("UTF-8"))
		go func() {
			logger.Debug("Restarting app with simulated screen to support workers shutdown")
			logger.Debug("Simulated screen app returned", "err", app.Run())
		}()

		logger.Info("Stopping all workers")
		workerManager.Cancel(appCtx)
	}()

	if runErr := app.Run(); runErr != nil {
		consoleLogger.Error("Application failed", "err", runErr)
		err = errors.Join(err, runErr)
	}
	return
}
