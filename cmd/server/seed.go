package main

import (
	"context"
	"fmt"
	"os"

	"caraudiopos/backend/internal/store"
	"caraudiopos/backend/internal/vendor"
)

// applySeeds overlays the repository's fitment snapshot with the seed files
// and saves the result. The fitment file replaces the fitment records; the
// accessory file is a merge master and is unioned into the stored accessories.
func applySeeds(ctx context.Context, repo store.Repository, fitmentPath, accessoryPath string) (bool, error) {
	if fitmentPath == "" && accessoryPath == "" {
		return false, nil
	}

	snapshot, err := repo.LoadFitmentSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("load fitment snapshot: %w", err)
	}

	if fitmentPath != "" {
		f, err := os.Open(fitmentPath)
		if err != nil {
			return false, fmt.Errorf("open fitment seed: %w", err)
		}
		records, err := vendor.ReadFitments(f)
		_ = f.Close()
		if err != nil {
			return false, fmt.Errorf("%s: %w", fitmentPath, err)
		}
		snapshot.Fitments = records
	}

	if accessoryPath != "" {
		f, err := os.Open(accessoryPath)
		if err != nil {
			return false, fmt.Errorf("open accessory seed: %w", err)
		}
		seed, err := vendor.ReadMaster(f)
		_ = f.Close()
		if err != nil {
			return false, fmt.Errorf("%s: %w", accessoryPath, err)
		}
		snapshot.Accessories = vendor.MergeInto(snapshot.Accessories, seed)
	}

	if err := repo.SaveFitmentSnapshot(ctx, snapshot); err != nil {
		return false, fmt.Errorf("save fitment snapshot: %w", err)
	}
	return true, nil
}
