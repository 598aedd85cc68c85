package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// Migrate copies every entry of the from ledger into the to ledger, keeping
// attempts and timestamps as they are. Rows already in the destination with
// the same identity are overwritten. The source is opened read-only. With
// dryRun set nothing is written and only the count is returned.
func Migrate(ctx context.Context, from, to Options, dryRun bool) (int, error) {
	if samePath(from.Path, to.Path) {
		return 0, errors.New("source and destination ledgers are the same file")
	}

	from.ReadOnly = true
	src, err := Open(from)
	if err != nil {
		return 0, fmt.Errorf("opening source ledger: %w", err)
	}
	defer src.Close()

	entries, err := src.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading source ledger: %w", err)
	}
	if dryRun {
		return len(entries), nil
	}

	to.ReadOnly = false
	dst, err := Open(to)
	if err != nil {
		return 0, fmt.Errorf("opening destination ledger: %w", err)
	}
	defer dst.Close()

	store := dst.(*service).store
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := store.Put(ctx, &entries[i]); err != nil {
			return i, fmt.Errorf("writing %s: %w", entries[i].Identity, err)
		}
	}
	return len(entries), nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
