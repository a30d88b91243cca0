// Isktreon is a server for verifying ISK payments from patrons to content creators in Eve Online.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jp-673/isktreon/internal/app/storage"
	"github.com/jp-673/isktreon/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(newAppDirs()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd(ad appDirs) *cobra.Command {
	var (
		configPath string
		levelFlag  = logLevelFlag{value: slog.LevelInfo}
		logFile    bool
	)
	c := &cobra.Command{
		Use:           appName,
		Short:         "Verify ISK patronage payments with Eve Online SSO",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			slog.SetLogLoggerLevel(levelFlag.value)
			if logFile {
				fn, err := ad.initLogFile()
				if err != nil {
					return err
				}
				log.SetOutput(&lumberjack.Logger{
					Filename:   fn,
					MaxSize:    50, // megabytes
					MaxBackups: 3,
				})
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), ad, configPath)
		},
	}
	c.PersistentFlags().StringVar(&configPath, "config", ad.configPath(), "path to the config file")
	c.PersistentFlags().Var(&levelFlag, "log-level", "set log level (DEBUG|INFO|WARN|ERROR)")
	c.PersistentFlags().BoolVar(&logFile, "log-file", false, "write logs to a file in the log folder instead of the console")
	c.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the server (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), ad, configPath)
			},
		},
		&cobra.Command{
			Use:   "logout",
			Short: "Remove a pending login from local storage",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runLogout(cmd.Context(), ad)
			},
		},
		&cobra.Command{
			Use:   "dirs",
			Short: "Show the folders where data, logs and the config are stored",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n", ad.config)
				fmt.Fprintf(cmd.OutOrStdout(), "Data: %s\n", ad.data)
				fmt.Fprintf(cmd.OutOrStdout(), "Logs: %s\n", ad.log)
			},
		},
	)
	return c
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file not found at %s: %w", path, err)
	}
	return cfg, err
}

// runLogout clears the local secret store, which destroys the verifier of a pending login.
// Sessions are held in memory and end with the server.
func runLogout(ctx context.Context, ad appDirs) error {
	lock, err := acquireLock()
	if err != nil {
		return err
	}
	defer lock.Release()
	dsn, err := ad.initDSN()
	if err != nil {
		return err
	}
	db, err := storage.InitDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.New(db).ClearDict(ctx); err != nil {
		return err
	}
	slog.Info("Pending login removed")
	return nil
}
