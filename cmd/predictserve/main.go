// Copyright 2025 The PredictServe Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package main implements the inline code completion server and CLI [DBG] application.

PredictServe asks a language model for the code that most likely follows the
cursor and keeps every answer in a per-document cache, so that while the user
types what was predicted the suggestion is served again without another
model call. It runs as a MessagePack IPC server for editor integration, or
as a CLI for testing and debugging.

# Usage

Start the server with default settings:

	predictserve

Use a custom config file and enable debug mode:

	predictserve -config ./predictserve.toml -d

Run in CLI mode for interactive testing:

	predictserve -c -lang go

# Configuration

Runtime configuration is managed through a TOML file:

	[prediction]
	debounce_ms = 500
	max_cache_size = 20
	max_pending = 2
	request_timeout_ms = 60000

	[context]
	max_lines_remote = 25
	max_lines_local = 12

	[provider]
	kind = "ollama"
	model = "qwen2.5-coder:1.5b"

The config file is created with defaults if it doesn't exist. Changes to the
[prediction] and [context] sections apply without restart.

# IPC Protocol

The server communicates via MessagePack over stdin/stdout, see pkg/server.

	{"id": "c1", "doc": "main.go", "text": "fmt.Pri", "offset": 7, "lang": "go"}

# Command Line Flags

	-config string
	    Path to a config file
	-d  Enable debug mode with detailed logging
	-c  Run in CLI mode instead of server mode
	-lang string
	    Language id used by CLI mode (default "go")
	-no-watch
	    Do not reload the config file on change
	-rebuild-config
	    Overwrite the default config file with the defaults
	-version
	    Show current version
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bastiangx/predictserve/internal/cli"
	"github.com/bastiangx/predictserve/internal/logger"
	"github.com/bastiangx/predictserve/internal/utils"
	"github.com/bastiangx/predictserve/pkg/config"
	"github.com/bastiangx/predictserve/pkg/predict"
	"github.com/bastiangx/predictserve/pkg/server"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

const (
	Version = "0.3.0-beta"
	AppName = "predictserve"
	gh      = "https://github.com/bastiangx/predictserve"
)

// sigContext is cancelled on SIGINT or SIGTERM.
func sigContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// main wires config, provider, controller and the chosen front end.
// main() does not implement logic for them and only manages the flow.
func main() {
	showVersion := flag.Bool("version", false, "Show current version")
	configFile := flag.String("config", "", "Path to a config file")
	debugMode := flag.Bool("d", false, "Toggle debug mode")
	cliMode := flag.Bool("c", false, "Run CLI -- useful for testing and debugging")
	language := flag.String("lang", "go", "Language id used in CLI mode")
	noWatch := flag.Bool("no-watch", false, "Do not reload the config file on change")
	rebuild := flag.Bool("rebuild-config", false, "Overwrite the default config file with the defaults")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger.Setup(*debugMode)

	if *rebuild {
		if err := config.RebuildConfigFile(); err != nil {
			log.Fatalf("Failed to rebuild config: %v", err)
		}
		log.Print("config rebuilt", "path", config.GetActiveConfigPath(""))
		return
	}

	appConfig, configPath, err := config.LoadConfigWithPriority(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Debugf("Using config file: (%s)", config.GetActiveConfigPath(configPath))

	p, err := appConfig.Provider.Build()
	if err != nil {
		log.Fatalf("Failed to init provider: %v", err)
	}
	log.Debug("provider ready", "name", p.Name(), "local", p.Local())

	var metrics predict.Metrics
	if *debugMode {
		metrics = predict.LogMetrics(logger.New("metrics"))
	}
	controller, err := predict.NewController(p, appConfig.Options(), metrics)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := sigContext()
	defer stop()

	if configPath != "" && !*noWatch {
		err := config.Watch(ctx, configPath, func(c *config.Config) {
			if err := controller.UpdateOptions(c.Options()); err != nil {
				log.Warnf("Ignoring reloaded config: %v", err)
				return
			}
			log.Info("config reloaded", "path", configPath)
		})
		if err != nil {
			log.Warnf("Config hot reload disabled: %v", err)
		}
	}

	// CLI would be mainly used for testing and dbg purposes.
	if *cliMode {
		log.SetReportTimestamp(false)
		timeout := time.Duration(appConfig.Prediction.RequestTimeoutMs) * time.Millisecond
		inputHandler := cli.NewInputHandler(controller, *language, timeout)
		if err := inputHandler.Start(); err != nil {
			log.Fatalf("CLI error: %v", err)
		}
		return
	}

	log.Debug("spawning IPC")
	showStartupInfo(p.Name(), configPath)

	srv := server.NewServer(controller, os.Stdin, os.Stdout)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
	controller.Reset()
}

func printVersion() {
	banner := logger.NewWithConfig("", log.InfoLevel, false, false, log.TextFormatter)

	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"}).
		Background(lipgloss.AdaptiveColor{Light: "#f2e9e1", Dark: "#26233a"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	banner.SetStyles(styles)

	banner.Print("")
	banner.Print("[ PredictServe ] Inline code predictions, cached while you type")
	banner.Print("", "version", Version)
	banner.Print("")
	banner.Print("use -h or --help to see available options")
	banner.Print("Github Repo", "gh", gh)
}

// showStartupInfo displays some basic info about the init process on stderr.
func showStartupInfo(providerName, configPath string) {
	if log.GetLevel() > log.DebugLevel {
		return
	}
	fmt.Fprintln(os.Stderr, "==============")
	fmt.Fprintln(os.Stderr, " PredictServe ")
	fmt.Fprintln(os.Stderr, "==============")
	log.Debugf("Version: %s", Version)
	log.Debugf("Process ID: [ %d ]", os.Getpid())
	log.Debugf("provider: ( %s )", providerName)
	log.Debugf("config: ( %s )", config.GetActiveConfigPath(configPath))
	for k, v := range utils.RuntimeInfo() {
		log.Debug("runtime", k, v)
	}
	log.Debug("status: ready")
}
