package pipeline

import (
	"sort"

	"go.uber.org/zap"

	"github.com/playforge/reconcile-cli/internal/model"
)

// CampaignRevenue is curated revenue and install count for one campaign on
// the reporting date.
type CampaignRevenue struct {
	Campaign string
	Revenue  float64
	Installs int
}

// ReportingDate resolves the reporting date for a run. An explicit date wins.
// Otherwise the second-latest UTC date among curated purchases is used — the
// latest day is usually still accumulating — falling back to the latest when
// only one day is present. Empty curated set yields "".
func ReportingDate(explicit string, curated []model.CuratedPurchase) string {
	if explicit != "" {
		return explicit
	}

	seen := make(map[string]bool)
	for _, p := range curated {
		seen[p.OccurredAt.UTC().Format("2006-01-02")] = true
	}
	if len(seen) == 0 {
		return ""
	}

	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	if len(dates) >= 2 {
		return dates[len(dates)-2]
	}
	return dates[len(dates)-1]
}

// AggregateRevenue sums curated purchase amounts per campaign for the
// reporting date. Installs is the count of curated purchases contributing to
// each campaign's revenue.
func AggregateRevenue(curated []model.CuratedPurchase, date string) map[string]CampaignRevenue {
	revenue := make(map[string]CampaignRevenue)
	for _, p := range curated {
		if p.OccurredAt.UTC().Format("2006-01-02") != date {
			continue
		}
		cr := revenue[p.Campaign]
		cr.Campaign = p.Campaign
		cr.Revenue += p.Amount
		cr.Installs++
		revenue[p.Campaign] = cr
	}
	return revenue
}

// BuildROAS joins campaign revenue against ad spend for the reporting date.
// A campaign with no spend row (or zero spend) is omitted rather than
// reported with an infinite ROAS.
func BuildROAS(revenue map[string]CampaignRevenue, costs []model.CostRecord, date string) []model.ROASRecord {
	spend := make(map[string]float64)
	for _, c := range costs {
		if c.Date != date {
			continue
		}
		spend[c.Campaign] += c.Spend
	}

	var out []model.ROASRecord
	for campaign, cr := range revenue {
		cost, ok := spend[campaign]
		if !ok || cost <= 0 {
			zap.L().Debug("roas: no spend for campaign, omitting",
				zap.String("campaign", campaign),
				zap.String("date", date),
			)
			continue
		}
		out = append(out, model.ROASRecord{
			Campaign: campaign,
			Revenue:  cr.Revenue,
			Cost:     cost,
			ROAS:     cr.Revenue / cost,
			Installs: cr.Installs,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Campaign < out[j].Campaign })
	return out
}
