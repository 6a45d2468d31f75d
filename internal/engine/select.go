package engine

import (
	"sort"
	"time"

	"github.com/roach88/dairyledger/internal/model"
)

// due reports whether an item's backoff has elapsed at now.
//
// An item that has never been attempted is due immediately. After the n-th
// failed attempt it waits backoff[n-1]; the last delay repeats if the retry
// ceiling is larger than the schedule.
func due(item model.SyncQueueItem, now time.Time, backoff []time.Duration) bool {
	if item.RetryCount == 0 || item.LastAttemptAt.IsZero() || len(backoff) == 0 {
		return true
	}
	i := item.RetryCount - 1
	if i >= len(backoff) {
		i = len(backoff) - 1
	}
	return !now.Before(item.LastAttemptAt.Add(backoff[i]))
}

// selectBatch picks up to limit items to send, in send order.
//
// items must be every unsynced item in (created_at, id) order, as returned by
// store.ListUnsynced. Per ordering key only the leading run of pending, due
// items is eligible: the first item of a key that is in_flight, failed or
// still backing off blocks every later item of that key. A failed item
// therefore holds its account's later entries until someone retries it.
//
// Send order is high priority first, then oldest first. An item's effective
// priority is the highest priority among itself and the later items of its
// chain, so a high priority entry pulls its account's earlier entries
// forward instead of overtaking them. Effective priorities never increase
// along a chain, so sorting cannot reorder two items of one key, and any
// prefix of the result holds a prefix of every chain.
func selectBatch(items []model.SyncQueueItem, now time.Time, backoff []time.Duration, limit int) []model.SyncQueueItem {
	type candidate struct {
		item model.SyncQueueItem
		rank int
	}

	var (
		candidates []candidate
		chains     = make(map[string][]int) // key -> indexes into candidates
		blocked    = make(map[string]bool)
	)
	for _, item := range items {
		eligible := item.Status == model.StatusPending && due(item, now, backoff)
		key := item.OrderingKey
		if key == "" {
			if eligible {
				candidates = append(candidates, candidate{item: item, rank: item.Priority.Rank()})
			}
			continue
		}
		if blocked[key] {
			continue
		}
		if !eligible {
			blocked[key] = true
			continue
		}
		chains[key] = append(chains[key], len(candidates))
		candidates = append(candidates, candidate{item: item, rank: item.Priority.Rank()})
	}

	// Propagate priority from the tail of each chain to its head.
	for _, idx := range chains {
		best := candidates[idx[len(idx)-1]].rank
		for i := len(idx) - 1; i >= 0; i-- {
			c := &candidates[idx[i]]
			if c.rank < best {
				best = c.rank
			}
			c.rank = best
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return model.QueueBefore(a.item, b.item)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	batch := make([]model.SyncQueueItem, len(candidates))
	for i, c := range candidates {
		batch[i] = c.item
	}
	return batch
}
