package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"github.com/vsrad/debugserver/internal/config"
	"github.com/vsrad/debugserver/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "debugserver",
		Usage:     "run programs and collect their results on behalf of remote clients",
		ArgsUsage: "[endpoint]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log at debug level and echo the output of executed programs.",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a YAML config file. By default " + config.FileName + " is searched for upwards from the working directory.",
			},
			&cli.StringFlag{
				Name:  "status-addr",
				Usage: "Serve the HTTP status endpoint and the WebSocket transport on this address.",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Also write JSON logs to this file.",
			},
			&cli.StringFlag{
				Name:  "min-client-version",
				Usage: "Reject clients older than this version.",
			},
		},
		Action: run,
	}
}

func run(cctx *cli.Context) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	cfg, err := config.Load(cctx.String("config"), wd)
	if err != nil {
		return err
	}
	if cctx.NArg() > 1 {
		return fmt.Errorf("expected at most one endpoint, got %d arguments", cctx.NArg())
	}
	if cctx.NArg() == 1 {
		cfg.ListenAddr = cctx.Args().First()
	}
	if cctx.IsSet("verbose") {
		cfg.Verbose = cctx.Bool("verbose")
	}
	if cctx.IsSet("status-addr") {
		cfg.StatusAddr = cctx.String("status-addr")
	}
	if cctx.IsSet("log-file") {
		cfg.LogFile = cctx.String("log-file")
	}
	if cctx.IsSet("min-client-version") {
		cfg.MinClientVersion = cctx.String("min-client-version")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := initLogger(cfg.LogFile, cfg.Verbose)
	if err != nil {
		return err
	}
	defer closeLog()
	if cfg.File != "" {
		logger.Sugar().Infow("loaded config", "File", cfg.File)
	}

	s, err := server.New(
		server.WithLogger(logger),
		server.WithListenAddr(cfg.ListenAddr),
		server.WithStatusAddr(cfg.StatusAddr),
		server.WithVerbose(cfg.Verbose),
		server.WithMaxMessageSize(cfg.MaxMessageSize),
		server.WithWriteTimeout(cfg.WriteTimeout),
		server.WithMinClientVersion(cfg.MinClientVersion),
		server.WithKillWaitDelay(cfg.KillWaitDelay),
	)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

func initLogger(logPath string, verbose bool) (*zap.Logger, func(), error) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level),
	}
	closeLog := func() {}
	if logPath != "" {
		file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), level))
		closeLog = func() { file.Close() }
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return logger, func() {
		logger.Sync()
		closeLog()
	}, nil
}
