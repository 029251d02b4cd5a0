package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/vidgen/internal/config"
	"github.com/phrazzld/vidgen/internal/platform/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Flag annotations read before configuration is loaded.
const (
	// configKeyAnnotation maps a flag onto one configuration key.
	configKeyAnnotation = "vidgen_config_key"
	// presetAnnotation lists key=value overrides applied when a bool flag is true.
	presetAnnotation = "vidgen_config_preset"
)

// app holds what every subcommand needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "vidgen",
		Short:         "Asynchronous video-generation job orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(flagOverrides(cmd))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			log, err := logger.Setup(logger.LoggerConfig{Level: cfg.Server.LogLevel})
			if err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}
			a.cfg = cfg
			a.logger = log.With(slog.String("command", cmd.Name()))
			return nil
		},
	}

	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	bindFlag(root.PersistentFlags(), "log-level", "server.log_level")

	root.AddCommand(
		newWorkerCmd(a),
		newServeCmd(a),
		newSubmitCmd(a),
		newMigrateCmd(a),
		newDeadLettersCmd(a),
	)
	return root
}

// bindFlag makes flag override the configuration key when it is set.
func bindFlag(flags *pflag.FlagSet, flag, key string) {
	// ALLOW-PANIC: flag names are compile-time constants
	if err := flags.SetAnnotation(flag, configKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}

// bindPreset applies the key=value overrides when the bool flag is true.
func bindPreset(flags *pflag.FlagSet, flag string, pairs ...string) {
	// ALLOW-PANIC: flag names are compile-time constants
	if err := flags.SetAnnotation(flag, presetAnnotation, pairs); err != nil {
		panic(err)
	}
}

// flagOverrides collects configuration overrides from the flags that were set
// on cmd and its parents.
func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if keys := f.Annotations[configKeyAnnotation]; len(keys) == 1 {
			overrides[keys[0]] = f.Value.String()
		}
		if f.Value.String() == "true" {
			for _, pair := range f.Annotations[presetAnnotation] {
				if key, value, ok := strings.Cut(pair, "="); ok {
					overrides[key] = value
				}
			}
		}
	})
	return overrides
}

// close runs registered cleanups in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("cleanup failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
