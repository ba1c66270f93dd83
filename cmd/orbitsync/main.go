// Command orbitsync runs the orbit propagation and render synchronization
// pipeline headless, with a debug HTTP server for introspection.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var errAuthToken = errors.New("auth.token is required when auth is enabled")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := newViper()
	var configFile string

	root := &cobra.Command{
		Use:          "orbitsync",
		Short:        "Orbit propagation and render synchronization pipeline",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlag("log.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
				return err
			}
			if err := v.BindPFlag("log.file", cmd.Root().PersistentFlags().Lookup("log-file")); err != nil {
				return err
			}
			if configFile == "" {
				return nil
			}
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config %s: %w", configFile, err)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-file", "", "rotate logs into this file instead of stdout")

	root.AddCommand(newRunCmd(v), newPropagateCmd(v), newPassesCmd(v))
	return root
}

// newLogger builds the JSON slog logger. With log.file set, output goes
// through a rotating lumberjack file; the returned closer flushes it.
func newLogger(v *viper.Viper) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if file := v.GetString("log.file"); file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    v.GetInt("log.max_size_mb"), // MB
			MaxBackups: v.GetInt("log.max_backups"),
			Compress:   true,
		}
		w, closer = lj, lj
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(v.GetString("log.level")),
	}))
	return logger, closer
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
