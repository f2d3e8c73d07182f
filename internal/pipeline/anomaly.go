package pipeline

import (
	"sort"

	"github.com/playforge/reconcile-cli/internal/model"
)

// DetectAnomalies flags every campaign whose ROAS fell below the threshold.
// Severity is high below half the threshold, medium otherwise. The result is
// ordered worst-first (ascending ROAS, campaign name breaking ties) and each
// record carries the threshold used, for auditability.
func DetectAnomalies(records []model.ROASRecord, threshold float64) []model.AnomalyRecord {
	var out []model.AnomalyRecord
	for _, r := range records {
		if r.ROAS >= threshold {
			continue
		}
		severity := model.SeverityMedium
		if r.ROAS < 0.5*threshold {
			severity = model.SeverityHigh
		}
		out = append(out, model.AnomalyRecord{
			Campaign:  r.Campaign,
			ROAS:      r.ROAS,
			Threshold: threshold,
			Revenue:   r.Revenue,
			Cost:      r.Cost,
			Severity:  severity,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ROAS != out[j].ROAS {
			return out[i].ROAS < out[j].ROAS
		}
		return out[i].Campaign < out[j].Campaign
	})
	return out
}
