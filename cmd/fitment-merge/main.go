// Command fitment-merge folds vendor accessory exports into the master table
// and publishes master plus fitment records as the catalog snapshot.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"caraudiopos/backend/internal/config"
	"caraudiopos/backend/internal/observability"
)

type rootOptions struct {
	envFile string
	cfg     config.Config
	logger  zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logger: zerolog.Nop()}
	root := &cobra.Command{
		Use:           "fitment-merge",
		Short:         "Merge vendor accessory sheets and publish the fitment snapshot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(opts.envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = observability.NewLogger(observability.LogConfig{
				Level:       cfg.LogLevel,
				Format:      "console",
				Output:      cmd.ErrOrStderr(),
				ServiceName: "fitment-merge",
			})
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(newMergeCmd(opts), newPublishCmd(opts))
	return root
}

// loadEnv loads a dotenv file. A missing file is not an error; variables
// already set in the environment win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
