package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fornellas/slogxt/log"
	"github.com/spf13/cobra"

	"github.com/fornellas/cnccon/prefs"
	tuiMod "github.com/fornellas/cnccon/tui"
	"github.com/fornellas/cnccon/widget"
	"github.com/fornellas/cnccon/worker_manager"
)

var preferencesPath string
var defaultPreferencesPath = getDefaultPreferencesPath()

func getDefaultPreferencesPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configDir, "cnccon", "preferences.yaml")
}

var widgetID string
var defaultWidgetID = "laser"

var ConsoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Connect to a machine controller and provide a laser test terminal user interface.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			append(getSessionAttrs(), "preferences-path", preferencesPath, "widget-id", widgetID)...,
		)
		cmd.SetContext(ctx)

		store, err := prefs.NewViper(preferencesPath)
		if err != nil {
			return err
		}
		defer func() {
			logger.Debug("Saving preferences", "path", store.Path())
			err = errors.Join(err, store.Save())
		}()

		session, err := NewSession(ctx)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, session.Close(ctx)) }()

		workerManager := worker_manager.NewWorkerManager()
		session.AddWorkers(workerManager)

		laser := widget.NewLaser(widgetID, session.Controller, store)
		console := tuiMod.NewConsole(laser, &tuiMod.ConsoleOptions{
			AppLogger: logDebugFileLogger,
		})

		return console.Run(ctx, workerManager)
	}),
}

func init() {
	AddSessionFlags(ConsoleCmd)

	ConsoleCmd.Flags().StringVarP(
		&preferencesPath, "preferences-path", "", defaultPreferencesPath,
		"Path to the YAML file where widget preferences are persisted; empty keeps them in memory only",
	)

	ConsoleCmd.Flags().StringVarP(
		&widgetID, "widget-id", "", defaultWidgetID,
		"Widget identifier, used to namespace its preferences; forked widgets use name:suffix",
	)

	RootCmd.AddCommand(ConsoleCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		preferencesPath = defaultPreferencesPath
		widgetID = defaultWidgetID
	})
}
