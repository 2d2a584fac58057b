package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/fitment"
	pgstore "caraudiopos/backend/internal/store/postgres"
	"caraudiopos/backend/internal/vendor"
)

type publishOptions struct {
	master  string
	fitment string
	dryRun  bool
}

type snapshotSaver interface {
	SaveFitmentSnapshot(ctx context.Context, snapshot domain.FitmentSnapshot) error
}

func newPublishCmd(root *rootOptions) *cobra.Command {
	opts := publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Write master and fitment records to postgres as the catalog snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			var saver snapshotSaver
			if !opts.dryRun {
				if root.cfg.DatabaseURL == "" {
					return errors.New("DATABASE_URL must be set to publish")
				}
				pg, err := pgstore.New(ctx, root.cfg.DatabaseURL)
				if err != nil {
					return fmt.Errorf("postgres: %w", err)
				}
				defer pg.Close()
				if err := pg.Migrate(ctx); err != nil {
					return err
				}
				saver = pg
			}

			snapshot, err := publish(ctx, saver, opts)
			if err != nil {
				return err
			}
			catalog := fitment.NewCatalog(snapshot)
			fitments, accessories := catalog.Counts()
			root.logger.Info().
				Str("version", catalog.Version()).
				Bool("dry_run", opts.dryRun).
				Msg("snapshot published")
			return printSummary(cmd.OutOrStdout(), catalog.Version(), fitments, accessories)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.master, "master", "master.json", "merged accessory master")
	flags.StringVar(&opts.fitment, "fitment", "", "JSON list of speaker fitment records")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "build and summarize the snapshot without writing it")
	_ = cmd.MarkFlagRequired("fitment")
	return cmd
}

// publish builds the snapshot from the two files and hands it to saver. A nil
// saver only builds it.
func publish(ctx context.Context, saver snapshotSaver, opts publishOptions) (domain.FitmentSnapshot, error) {
	snapshot, err := buildSnapshot(opts.master, opts.fitment)
	if err != nil {
		return domain.FitmentSnapshot{}, err
	}
	if saver == nil {
		return snapshot, nil
	}
	if err := saver.SaveFitmentSnapshot(ctx, snapshot); err != nil {
		return domain.FitmentSnapshot{}, fmt.Errorf("save snapshot: %w", err)
	}
	return snapshot, nil
}

func buildSnapshot(masterPath, fitmentPath string) (domain.FitmentSnapshot, error) {
	f, err := os.Open(masterPath)
	if err != nil {
		return domain.FitmentSnapshot{}, fmt.Errorf("open master: %w", err)
	}
	raw, err := vendor.ReadMaster(f)
	_ = f.Close()
	if err != nil {
		return domain.FitmentSnapshot{}, err
	}

	f, err = os.Open(fitmentPath)
	if err != nil {
		return domain.FitmentSnapshot{}, fmt.Errorf("open fitment: %w", err)
	}
	records, err := vendor.ReadFitments(f)
	_ = f.Close()
	if err != nil {
		return domain.FitmentSnapshot{}, err
	}

	// Re-merging normalizes keys a hand-edited master may have drifted on.
	accessories := vendor.MergeInto(nil, raw)
	return domain.FitmentSnapshot{Fitments: records, Accessories: accessories}, nil
}

func printSummary(w io.Writer, version string, fitments, accessories int) error {
	_, err := fmt.Fprintf(w, "version %s: %d fitment keys, %d accessory keys\n", version, fitments, accessories)
	return err
}
