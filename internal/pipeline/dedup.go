package pipeline

import (
	"sort"
	"time"

	"github.com/playforge/reconcile-cli/internal/model"
)

// DedupAcquisitions collapses duplicate acquisition records to one canonical
// row per source_id. When duplicates exist the row with the latest
// occurred_at wins; a timestamp tie keeps the first-encountered row. The
// result is ordered by source_id, so the operation is idempotent and
// deterministic under any input order.
func DedupAcquisitions(rows []model.AcquisitionRecord) []model.AcquisitionRecord {
	return dedupLatest(rows,
		func(r model.AcquisitionRecord) string { return r.SourceID },
		func(r model.AcquisitionRecord) time.Time { return r.OccurredAt },
	)
}

// DedupConfirmations collapses duplicate confirmation records to one
// canonical row per transaction_id, with the same tie-break rules as
// DedupAcquisitions.
func DedupConfirmations(rows []model.ConfirmationRecord) []model.ConfirmationRecord {
	return dedupLatest(rows,
		func(r model.ConfirmationRecord) string { return r.TransactionID },
		func(r model.ConfirmationRecord) time.Time { return r.OccurredAt },
	)
}

func dedupLatest[T any](rows []T, key func(T) string, at func(T) time.Time) []T {
	kept := make(map[string]T, len(rows))
	for _, row := range rows {
		k := key(row)
		prev, ok := kept[k]
		if !ok {
			kept[k] = row
			continue
		}
		// Strictly-later wins; equal timestamps keep the earlier arrival.
		if at(row).After(at(prev)) {
			kept[k] = row
		}
	}

	keys := make([]string, 0, len(kept))
	for k := range kept {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(kept))
	for _, k := range keys {
		out = append(out, kept[k])
	}
	return out
}
