package pipeline

import (
	"sort"

	"github.com/playforge/reconcile-cli/internal/model"
)

// ComputeARPDAU joins campaign revenue against distinct-active-user counts
// from the session table for the reporting date. A campaign with zero DAU is
// omitted, mirroring the missing-denominator policy of the ROAS report.
func ComputeARPDAU(revenue map[string]CampaignRevenue, sessions []model.SessionRecord, date string) []model.ARPDAURecord {
	active := make(map[string]map[string]bool)
	for _, s := range sessions {
		if s.Date != date {
			continue
		}
		users := active[s.Campaign]
		if users == nil {
			users = make(map[string]bool)
			active[s.Campaign] = users
		}
		users[s.UserID] = true
	}

	var out []model.ARPDAURecord
	for campaign, cr := range revenue {
		dau := len(active[campaign])
		if dau == 0 {
			continue
		}
		out = append(out, model.ARPDAURecord{
			Campaign: campaign,
			Revenue:  cr.Revenue,
			DAU:      dau,
			ARPDAU:   cr.Revenue / float64(dau),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Campaign < out[j].Campaign })
	return out
}
