package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/consolemux/consolemux/internal/config"
	"github.com/consolemux/consolemux/internal/control"
	"github.com/consolemux/consolemux/internal/loop"
	"github.com/consolemux/consolemux/internal/logging"
	"github.com/consolemux/consolemux/internal/object"
	"github.com/consolemux/consolemux/internal/tpoll"
)

func runValidate(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("config OK: %d objects, listening on port %d\n", len(cfg.Objects), cfg.Port)
	return nil
}

func runDaemon(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logOut := os.Stderr
	var logf *logging.Logger
	if cfg.LogFileName != "" {
		f, err := os.OpenFile(cfg.LogFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.LogFileName, err)
		}
		defer f.Close()
		logf = logging.New(f, parseLevel(cfg.LogFileLevel, cfg.EnableVerbose))
	} else {
		logf = logging.New(logOut, parseLevel(cfg.LogFileLevel, cfg.EnableVerbose))
	}

	logf.Noticef("consolemuxd %s starting, %d consoles configured", version, len(cfg.Objects))

	ctrl, err := control.New(logf)
	if err != nil {
		return fmt.Errorf("control plane: %w", err)
	}
	ctrl.Start()
	defer ctrl.Stop()

	l := loop.New(tpoll.New(), object.NewSet(), ctrl, logf, cfg)
	if err := loop.Bootstrap(l, cfg); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	logf.Noticef("listening on port %d", cfg.Port)
	l.Run()
	logf.Noticef("consolemuxd shutting down")
	return nil
}

func parseLevel(name string, verbose bool) logging.Level {
	if verbose {
		return logging.Debug
	}
	switch strings.ToLower(name) {
	case "debug":
		return logging.Debug
	case "info":
		return logging.Info
	case "warning", "warn":
		return logging.Warning
	case "error":
		return logging.Error
	default:
		return logging.Notice
	}
}
