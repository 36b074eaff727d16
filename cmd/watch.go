package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/fornellas/cnccon/controller"
	"github.com/fornellas/cnccon/gate"
	"github.com/fornellas/cnccon/worker_manager"
)

var watchTimeout time.Duration
var defaultWatchTimeout time.Duration

func printEvents(w io.Writer, ctrl *controller.Controller) {
	printGate := func() {
		fmt.Fprintf(w, " can-issue=%v\n", gate.LaserTest.CanIssue(ctrl.Snapshot()))
	}
	ctrl.OnConnectionOpen("watch", func(e controller.ConnectionOpen) {
		fmt.Fprintf(w, "%s ident=%s", controller.EventConnectionOpen, e.Connection.Ident)
		printGate()
	})
	ctrl.OnConnectionClose("watch", func(e controller.ConnectionClose) {
		fmt.Fprintf(w, "%s ident=%s", controller.EventConnectionClose, e.Ident)
		printGate()
	})
	ctrl.OnSettings("watch", func(e controller.SettingsChanged) {
		fmt.Fprintf(w, "%s type=%s", controller.EventControllerSettings, e.Type)
		printGate()
	})
	ctrl.OnState("watch", func(e controller.StateChanged) {
		fmt.Fprintf(w, "%s type=%s state=%s", controller.EventControllerState, e.Type, e.State)
		printGate()
	})
	ctrl.OnWorkflow("watch", func(e controller.WorkflowChanged) {
		fmt.Fprintf(w, "%s state=%s", controller.EventWorkflowState, e.State)
		printGate()
	})
}

var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to a machine controller and print normalized controller events, and whether a laser test could be issued after each of them.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		ctx, _ := log.MustWithAttrs(
			cmd.Context(),
			append(getSessionAttrs(), "timeout", watchTimeout)...,
		)
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		if watchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, watchTimeout)
			defer cancel()
		}
		cmd.SetContext(ctx)

		session, err := NewSession(ctx)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, session.Close(ctx)) }()

		printEvents(cmd.OutOrStdout(), session.Controller)

		workerManager := worker_manager.NewWorkerManager()
		session.AddWorkers(workerManager)
		// Workers are stopped in order through the chain, not all at once by ctx.
		workerCtx := context.WithoutCancel(ctx)
		workerManager.Start(workerCtx)
		stopCancel := context.AfterFunc(ctx, func() { workerManager.Cancel(workerCtx) })
		defer stopCancel()
		return workerManager.Wait(workerCtx)
	}),
}

func init() {
	AddSessionFlags(WatchCmd)

	WatchCmd.Flags().DurationVarP(
		&watchTimeout, "timeout", "t", defaultWatchTimeout,
		"Stop watching after this long; zero watches until interrupted",
	)

	RootCmd.AddCommand(WatchCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		watchTimeout = defaultWatchTimeout
	})
}
