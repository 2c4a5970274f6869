// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// gateway is the cross-chain asset gateway daemon: deposit server, parachain
// workers, withdrawal ingestor, and ingot caster in one process.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	gateway "github.com/luxfi/gateway"
	"github.com/luxfi/gateway/audit"
	"github.com/luxfi/gateway/config"
	"github.com/luxfi/gateway/log"
)

const clientIdentifier = "gateway"

var version = "1.0.0"

var (
	configFileFlag = &cli.StringFlag{Name: "config-file", Usage: "yaml configuration file"}
	dataDirFlag    = &cli.StringFlag{Name: "data-dir", Usage: "directory for the pipe folder and audit database"}
	logLevelFlag   = &cli.StringFlag{Name: "log-level", Usage: "log level (trace|debug|info|warn|error)"}
	logJSONFlag    = &cli.BoolFlag{Name: "log-json", Usage: "emit JSON logs"}
	logFileFlag    = &cli.StringFlag{Name: "log-file", Usage: "rotating log file (empty: stderr only)"}
	yesFlag        = &cli.BoolFlag{Name: "yes", Usage: "skip confirmation prompts"}
)

func main() {
	app := &cli.App{
		Name:    clientIdentifier,
		Usage:   "cross-chain asset gateway for host-ledger user-issued assets",
		Version: version,
		Flags:   []cli.Flag{configFileFlag, dataDirFlag, logLevelFlag, logJSONFlag, logFileFlag},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the gateway daemon",
				Action: runGateway,
			},
			{
				Name:   "initdb",
				Usage:  "archive any existing audit database and create a fresh one",
				Flags:  []cli.Flag{yesFlag},
				Action: runInitDB,
			},
			{
				Name:   "balances",
				Usage:  "print gateway foreign-chain account balances",
				Action: runBalances,
			},
		},
		Action: runGateway,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildConfig layers defaults, the config file, env, and flags.
func buildConfig(ctx *cli.Context) (*config.Config, error) {
	fs := config.BuildFlagSet()
	args := []string{}
	if v := ctx.String(configFileFlag.Name); v != "" {
		args = append(args, "--"+config.ConfigFileKey, v)
	}
	if v := ctx.String(dataDirFlag.Name); v != "" {
		args = append(args, "--"+config.DataDirKey, v)
	}
	if v := ctx.String(logLevelFlag.Name); v != "" {
		args = append(args, "--"+config.LogLevelKey, v)
	}
	if ctx.Bool(logJSONFlag.Name) {
		args = append(args, "--"+config.LogJSONKey+"=true")
	}
	if v := ctx.String(logFileFlag.Name); v != "" {
		args = append(args, "--"+config.LogFileKey, v)
	}
	v, err := config.BuildViper(fs, args)
	if err != nil {
		return nil, err
	}
	return config.BuildConfig(v)
}

// buildLogger wires the sink: rotating file when configured, otherwise a
// color-capable stderr.
func buildLogger(cfg *config.Config) (log.Logger, error) {
	var writer io.Writer
	switch {
	case cfg.LogFile != "":
		writer = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
	case isatty.IsTerminal(os.Stderr.Fd()):
		writer = colorable.NewColorableStderr()
	default:
		writer = os.Stderr
	}
	return log.InitLogger(cfg.LogLevel, cfg.LogJSON, writer)
}

func runGateway(ctx *cli.Context) error {
	cfg, err := buildConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	logger.Info("starting gateway", "version", version, "data_dir", cfg.DataDir)

	g, err := gateway.New(cfg, logger)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return g.Run(runCtx)
}

func runInitDB(ctx *cli.Context) error {
	cfg, err := buildConfig(ctx)
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.DataDir, "gateway.db")
	if _, err := os.Stat(path); err == nil {
		if !ctx.Bool(yesFlag.Name) {
			return fmt.Errorf("%s exists; pass --yes to archive it and start fresh", path)
		}
		archived := fmt.Sprintf("%s_%d.db", path[:len(path)-3], time.Now().Unix())
		if err := os.Rename(path, archived); err != nil {
			return err
		}
		fmt.Printf("archived %s -> %s\n", path, archived)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	db, err := audit.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	fmt.Printf("created %s\n", path)
	return nil
}

func runBalances(ctx *cli.Context) error {
	cfg, err := buildConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	g, err := gateway.New(cfg, logger)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, line := range g.Balances(callCtx) {
		if line.Err != nil {
			fmt.Printf("%-4s %-40s %-8s n/a (%v)\n", line.Network, line.Address, line.Role, line.Err)
			continue
		}
		fmt.Printf("%-4s %-40s %-8s %f\n", line.Network, line.Address, line.Role, line.Amount)
	}
	return nil
}
