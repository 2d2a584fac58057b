package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"caraudiopos/backend/internal/vendor"
)

type mergeOptions struct {
	layout  string
	layouts string
	sheet   string
	inputs  []string
	master  string
	out     string
}

func newMergeCmd(root *rootOptions) *cobra.Command {
	opts := mergeOptions{}
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Parse vendor exports and union them into the master table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reports, err := runMerge(cmd.Context(), opts)
			if err != nil {
				return err
			}
			for _, r := range reports {
				root.logger.Info().
					Str("source", r.Source).
					Int("data_rows", r.DataRows).
					Int("skipped", r.Skipped).
					Int("vehicles", r.Vehicles).
					Msg("sheet merged")
			}
			return writeReports(cmd.OutOrStdout(), reports)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.layout, "layout", "metra", "vendor layout of every input")
	flags.StringVar(&opts.layouts, "layouts", "", "YAML file with additional layouts")
	flags.StringVar(&opts.sheet, "sheet", "", "worksheet of .xlsx inputs, first sheet when empty")
	flags.StringArrayVar(&opts.inputs, "in", nil, "vendor export (.csv, .txt or .xlsx), repeatable")
	flags.StringVar(&opts.master, "master", "master.json", "master table to merge into")
	flags.StringVar(&opts.out, "out", "", "output path, the master file when empty")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func runMerge(ctx context.Context, opts mergeOptions) ([]vendor.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	layouts := vendor.BuiltinLayouts()
	if opts.layouts != "" {
		f, err := os.Open(opts.layouts)
		if err != nil {
			return nil, fmt.Errorf("open layouts: %w", err)
		}
		err = layouts.LoadLayouts(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
	}
	layout, err := layouts.Get(opts.layout)
	if err != nil {
		return nil, err
	}

	master, err := readMasterFile(opts.master)
	if err != nil {
		return nil, err
	}

	parsed := make([]vendor.Master, len(opts.inputs))
	reports := make([]vendor.Report, len(opts.inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range opts.inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			m, report, err := vendor.ParseFile(filepath.Base(path), raw, opts.sheet, layout)
			if err != nil {
				return err
			}
			parsed[i], reports[i] = m, report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Inputs merge in command-line order; the union does not depend on it.
	for _, m := range parsed {
		master = vendor.MergeInto(master, m)
	}

	out := opts.out
	if out == "" {
		out = opts.master
	}
	if err := writeMasterFile(out, master); err != nil {
		return nil, err
	}
	return reports, nil
}

// readMasterFile returns an empty master when path does not exist yet.
func readMasterFile(path string) (vendor.Master, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return vendor.Master{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open master: %w", err)
	}
	defer f.Close()
	return vendor.ReadMaster(f)
}

// writeMasterFile replaces path through a temp file in the same directory.
func writeMasterFile(path string, m vendor.Master) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".master-*.json")
	if err != nil {
		return fmt.Errorf("create temp master: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := vendor.WriteMaster(tmp, m); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeReports(w io.Writer, reports []vendor.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"reports": reports})
}
