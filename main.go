// Package main is the govault server entrypoint.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"govault/config"
	"govault/discovery"
	"govault/network"
	"govault/storage"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

var (
	flagDataDir     string
	flagListen      string
	flagLogLevel    string
	flagNoDiscovery bool
)

var rootCmd = &cobra.Command{
	Use:   "govault",
	Short: "Encrypted backup and registration server.",
	RunE: func(*cobra.Command, []string) error {
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the govault server.",
	RunE:  runServe,
}

func setLogger(level string) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = time.RFC3339
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	switch strings.ToLower(level) {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	dataDir := flagDataDir
	if dataDir == "" {
		resolved, err := config.ResolveDataDir()
		if err != nil {
			return fmt.Errorf("resolve data dir failed: %w", err)
		}
		dataDir = resolved
	}

	cfg, cfgPath, err := config.LoadOrCreate(dataDir)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	logLevel := cfg.LogLevel
	if flagLogLevel != "" {
		logLevel = flagLogLevel
	}
	setLogger(logLevel)

	logger.WithFields(logrus.Fields{
		"config":   cfgPath,
		"data_dir": dataDir,
	}).Info("configuration loaded")

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open database failed: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warning("database close failed")
		}
	}()
	logger.WithField("db", dbPath).Info("database opened")

	fileVault, err := storage.NewFileVault(config.FilesDir(dataDir))
	if err != nil {
		return fmt.Errorf("open file vault failed: %w", err)
	}

	listenAddr := flagListen
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%d", cfg.Port)
	}

	server, err := network.Listen(listenAddr, store, network.WithFileStore(fileVault))
	if err != nil {
		return fmt.Errorf("start server failed: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			logger.WithError(err).Warning("server close failed")
		}
	}()

	if cfg.EnableDiscovery && !flagNoDiscovery {
		port := cfg.Port
		if tcpAddr, ok := server.Addr().(*net.TCPAddr); ok {
			port = tcpAddr.Port
		}
		broadcaster, err := discovery.StartBroadcaster(discovery.Config{
			InstanceName: cfg.ServerName,
			Port:         port,
		})
		if err != nil {
			logger.WithError(err).Warning("mDNS advertisement failed to start")
		} else {
			defer broadcaster.Stop()
			logger.Info("mDNS advertisement running")
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithField("addr", server.Addr().String()).Info("govault serving, press Ctrl+C to stop")
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "data directory (defaults to the OS config dir, or GOVAULT_DATA_DIR)")
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (defaults to the configured port)")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	serveCmd.Flags().BoolVar(&flagNoDiscovery, "no-discovery", false, "disable mDNS advertisement")

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
