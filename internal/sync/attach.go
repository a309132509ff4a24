package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	gosync "sync"

	"github.com/mschirtzinger/exposure-tracker/internal/remote"
	"github.com/mschirtzinger/exposure-tracker/internal/state"
	"github.com/mschirtzinger/exposure-tracker/internal/types"
)

// Attach subscribes to the user's three collections and replaces the
// matching local snapshot on every delivery. Snapshots that fail to decode
// are logged and dropped; the local store only ever sees decoded data.
//
// The returned function cancels all three subscriptions. Once it returns,
// no delivery reaches local, including one that was already in flight.
func Attach(ctx context.Context, store remote.Store, local *state.Store, uid string, logger *log.Logger) (func(), error) {
	if uid == "" {
		return nil, ErrAuthenticationRequired
	}
	if logger == nil {
		logger = log.Default()
	}

	// mu is held across every replacement so detach can wait one out.
	var (
		mu       gosync.Mutex
		detached bool
		cancels  []func()
	)
	detach := func() {
		mu.Lock()
		detached = true
		mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
	}

	subscribe := func(path string, fn func(json.RawMessage)) error {
		cancel, err := store.Subscribe(ctx, path, func(raw json.RawMessage) {
			mu.Lock()
			defer mu.Unlock()
			if detached {
				return
			}
			fn(raw)
		})
		if err != nil {
			detach()
			return fmt.Errorf("failed to subscribe to %s: %w", path, err)
		}
		cancels = append(cancels, cancel)
		return nil
	}

	if err := subscribe(remote.GoalsPath(uid), func(raw json.RawMessage) {
		goals, err := DecodeGoals(raw)
		if err != nil {
			logger.Printf("Warning: dropping goals snapshot: %v", err)
			return
		}
		local.ReplaceGoals(goals)
	}); err != nil {
		return nil, err
	}

	if err := subscribe(remote.ExposuresPath(uid), func(raw json.RawMessage) {
		list, err := DecodeExposures(raw, logger)
		if err != nil {
			logger.Printf("Warning: dropping exposures snapshot: %v", err)
			return
		}
		local.ReplaceExposures(list)
	}); err != nil {
		return nil, err
	}

	if err := subscribe(remote.SummariesPath(uid), func(raw json.RawMessage) {
		list, err := DecodeSummaries(raw, logger)
		if err != nil {
			logger.Printf("Warning: dropping summaries snapshot: %v", err)
			return
		}
		local.ReplaceSummaries(list)
	}); err != nil {
		return nil, err
	}

	logger.Printf("Attached to remote data of %s", uid)
	return detach, nil
}

// DecodeGoals decodes a goals snapshot. A missing value is an empty list.
func DecodeGoals(raw json.RawMessage) (types.Goals, error) {
	var goals types.Goals
	if raw == nil {
		return goals, nil
	}
	if err := json.Unmarshal(raw, &goals); err != nil {
		return types.Goals{}, err
	}
	return goals, nil
}

// DecodeExposures decodes a collection snapshot keyed by remote key. The
// key always wins over any id stored inside the record. A missing value is
// an empty collection; a value that is not an object is an error.
// Undecodable records are logged and skipped.
func DecodeExposures(raw json.RawMessage, logger *log.Logger) ([]types.Exposure, error) {
	entries, err := decodeCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("exposures snapshot: %w", err)
	}
	out := make([]types.Exposure, 0, len(entries))
	for _, key := range sortedKeys(entries) {
		var e types.Exposure
		if err := json.Unmarshal(entries[key], &e); err != nil {
			logf(logger, "Warning: skipping exposure %s: %v", key, err)
			continue
		}
		e.ID = key
		out = append(out, e)
	}
	return out, nil
}

// DecodeSummaries decodes a summaries collection snapshot.
func DecodeSummaries(raw json.RawMessage, logger *log.Logger) ([]types.WeeklySummary, error) {
	entries, err := decodeCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("summaries snapshot: %w", err)
	}
	out := make([]types.WeeklySummary, 0, len(entries))
	for _, key := range sortedKeys(entries) {
		var s types.WeeklySummary
		if err := json.Unmarshal(entries[key], &s); err != nil {
			logf(logger, "Warning: skipping summary %s: %v", key, err)
			continue
		}
		s.ID = key
		out = append(out, s)
	}
	return out, nil
}

func decodeCollection(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if raw == nil {
		return nil, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("not an object: %w", err)
	}
	return entries, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
