// Package snapshotsync provides the seam a validator uses to obtain a
// snapshot file it doesn't have locally before rebuilding from it,
// without this module owning any actual network transport.
package snapshotsync

import (
	"context"
	"time"

	"github.com/dotlanth/dotvm/core/state"
	"github.com/dotlanth/dotvm/dotvmerr"
	"github.com/dotlanth/dotvm/erigon-lib/log"
)

// FetchMode controls whether, and when, EnsureSnapshot reaches for a
// remote fetch instead of relying only on what's already in the local
// SnapshotStore.
type FetchMode int

const (
	// FetchDisabled never calls the fetcher: a missing snapshot is an
	// error, full stop.
	FetchDisabled FetchMode = iota
	// FetchOnDemand calls the fetcher only when the requested version
	// isn't already present locally.
	FetchOnDemand
	// FetchPreload always calls the fetcher first, so a slightly stale
	// local copy never gets served when a newer one is available.
	FetchPreload
)

func (m FetchMode) String() string {
	switch m {
	case FetchDisabled:
		return "Disabled"
	case FetchOnDemand:
		return "OnDemand"
	case FetchPreload:
		return "Preload"
	default:
		return "Unknown"
	}
}

// SnapshotFetcher is the network transport seam: given a checkpoint ID,
// it returns the fully decoded snapshot or reports it isn't available
// anywhere reachable. No implementation lives in this module — wiring a
// real one (gossip, HTTP, object storage) is a deployment concern.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, checkpointID string) (*state.Snapshot, error)
}

// NoFetcher is the zero-value SnapshotFetcher: every fetch fails
// immediately, the correct behavior when FetchMode is Disabled or no
// transport has been configured.
type NoFetcher struct{}

func (NoFetcher) Fetch(ctx context.Context, checkpointID string) (*state.Snapshot, error) {
	const op = "NoFetcher.Fetch"
	return nil, dotvmerr.New(dotvmerr.KindUnsupportedFeature, op, nil)
}

// EnsureSnapshot resolves the closest snapshot at or before maxVersion,
// consulting fetcher according to mode when the store doesn't already
// have one: FetchDisabled never fetches, FetchOnDemand fetches only on a
// local miss, FetchPreload always fetches first and falls back to the
// local store if the fetch fails. A fetched snapshot is added to store so
// later lookups hit it locally.
func EnsureSnapshot(ctx context.Context, logger log.Logger, store *state.MemorySnapshotStore, fetcher SnapshotFetcher, mode FetchMode, maxVersion uint64, checkpointID string) (*state.Snapshot, error) {
	const op = "EnsureSnapshot"

	if fetcher == nil {
		fetcher = NoFetcher{}
	}

	if mode == FetchPreload {
		if snap, err := fetchAndStore(ctx, logger, store, fetcher, checkpointID); err == nil {
			return snap, nil
		}
	}

	if snap, ok, err := store.ClosestSnapshot(maxVersion); err != nil {
		return nil, dotvmerr.New(dotvmerr.KindStateInconsistency, op, err)
	} else if ok {
		return snap, nil
	}

	if mode == FetchDisabled {
		return nil, dotvmerr.New(dotvmerr.KindStateInconsistency, op, nil)
	}

	return fetchAndStore(ctx, logger, store, fetcher, checkpointID)
}

func fetchAndStore(ctx context.Context, logger log.Logger, store *state.MemorySnapshotStore, fetcher SnapshotFetcher, checkpointID string) (*state.Snapshot, error) {
	const op = "fetchAndStore"

	start := time.Now()
	snap, err := fetcher.Fetch(ctx, checkpointID)
	if err != nil {
		return nil, dotvmerr.New(dotvmerr.KindStateInconsistency, op, err)
	}
	if logger != nil {
		logger.Info("fetched snapshot", "checkpoint", checkpointID, "version", snap.VersionID, "elapsed", time.Since(start))
	}
	store.Add(snap)
	return snap, nil
}
