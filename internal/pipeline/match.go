package pipeline

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/playforge/reconcile-cli/internal/model"
)

// MatchOutcome is the full result of one reconciliation pass. Matches plus
// the two unmatched sets partition the canonical inputs exactly.
type MatchOutcome struct {
	Matches                []model.MatchResult
	Curated                []model.CuratedPurchase
	Chargebacks            []model.CuratedPurchase
	UnmatchedAcquisitions  []model.AcquisitionRecord
	UnmatchedConfirmations []model.ConfirmationRecord
	Summary                model.ReconciliationSummary
}

// candidate is one eligible (acquisition, confirmation) pair inside a user
// group, ready for greedy selection.
type candidate struct {
	delta  time.Duration
	confID string
	acqID  string
}

// Match pairs canonical acquisitions with canonical confirmations 1:1.
//
// A pair is eligible when both records belong to the same user, the amounts
// are equal, and the absolute time difference is within tolerance. Ambiguity
// is resolved greedily: eligible pairs are taken in ascending time-delta
// order (ties by confirmation id, then acquisition id) while both sides are
// still unclaimed. Greedy nearest-time is a deliberate approximation — a
// minimum-cost bipartite matching could pair more records in adversarial
// orderings, but this policy is simple and fully deterministic.
//
// Matched chargeback confirmations are kept out of the curated set but
// returned separately for audit.
func Match(acqs []model.AcquisitionRecord, confs []model.ConfirmationRecord, tolerance time.Duration) *MatchOutcome {
	acqByID := make(map[string]model.AcquisitionRecord, len(acqs))
	confByID := make(map[string]model.ConfirmationRecord, len(confs))

	acqsByUser := make(map[string][]model.AcquisitionRecord)
	confsByUser := make(map[string][]model.ConfirmationRecord)
	for _, a := range acqs {
		acqByID[a.SourceID] = a
		acqsByUser[a.UserID] = append(acqsByUser[a.UserID], a)
	}
	for _, c := range confs {
		confByID[c.TransactionID] = c
		confsByUser[c.UserID] = append(confsByUser[c.UserID], c)
	}

	// Claimed markers live only for the duration of this pass.
	claimedAcq := make(map[string]bool, len(acqs))
	claimedConf := make(map[string]bool, len(confs))

	users := make([]string, 0, len(acqsByUser))
	for u := range acqsByUser {
		users = append(users, u)
	}
	sort.Strings(users)

	out := &MatchOutcome{}
	for _, user := range users {
		userConfs := confsByUser[user]
		if len(userConfs) == 0 {
			continue
		}

		var pairs []candidate
		for _, a := range acqsByUser[user] {
			for _, c := range userConfs {
				if a.Amount != c.Amount {
					continue
				}
				delta := a.OccurredAt.Sub(c.OccurredAt)
				if delta < 0 {
					delta = -delta
				}
				if delta > tolerance {
					continue
				}
				pairs = append(pairs, candidate{delta: delta, confID: c.TransactionID, acqID: a.SourceID})
			}
		}

		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].delta != pairs[j].delta {
				return pairs[i].delta < pairs[j].delta
			}
			if pairs[i].confID != pairs[j].confID {
				return pairs[i].confID < pairs[j].confID
			}
			return pairs[i].acqID < pairs[j].acqID
		})

		for _, p := range pairs {
			if claimedAcq[p.acqID] || claimedConf[p.confID] {
				continue
			}
			claimedAcq[p.acqID] = true
			claimedConf[p.confID] = true

			out.Matches = append(out.Matches, model.MatchResult{
				AcquisitionID:  p.acqID,
				ConfirmationID: p.confID,
				MatchDelta:     p.delta,
			})

			merged := mergePurchase(acqByID[p.acqID], confByID[p.confID])
			if confByID[p.confID].Status == model.StatusChargeback {
				out.Chargebacks = append(out.Chargebacks, merged)
			} else {
				out.Curated = append(out.Curated, merged)
			}
		}
	}

	for _, a := range acqs {
		if !claimedAcq[a.SourceID] {
			out.UnmatchedAcquisitions = append(out.UnmatchedAcquisitions, a)
		}
	}
	for _, c := range confs {
		if !claimedConf[c.TransactionID] {
			out.UnmatchedConfirmations = append(out.UnmatchedConfirmations, c)
		}
	}

	out.Summary = model.ReconciliationSummary{
		TotalAcquisition:     len(acqs),
		TotalConfirmed:       len(confs),
		Matched:              len(out.Matches),
		UnmatchedAcquisition: len(out.UnmatchedAcquisitions),
		UnmatchedConfirmed:   len(out.UnmatchedConfirmations),
	}
	if len(acqs) > 0 {
		out.Summary.MatchRate = float64(out.Summary.Matched) / float64(len(acqs))
	}

	zap.L().Info("matcher: reconciliation complete",
		zap.Int("matched", out.Summary.Matched),
		zap.Int("unmatched_acquisition", out.Summary.UnmatchedAcquisition),
		zap.Int("unmatched_confirmed", out.Summary.UnmatchedConfirmed),
		zap.Int("chargebacks", len(out.Chargebacks)),
		zap.Float64("match_rate", out.Summary.MatchRate),
	)

	return out
}

func mergePurchase(a model.AcquisitionRecord, c model.ConfirmationRecord) model.CuratedPurchase {
	return model.CuratedPurchase{
		SourceID:      a.SourceID,
		TransactionID: c.TransactionID,
		UserID:        a.UserID,
		Amount:        a.Amount,
		Campaign:      a.Campaign,
		OccurredAt:    a.OccurredAt,
		ConfirmedAt:   c.OccurredAt,
	}
}
