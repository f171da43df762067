// Package velocity compares two reporting periods to find campaigns whose
// daily spend is falling.
package velocity

import (
	"math"

	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/table"
)

// Period lengths, in days, of the earlier and the recent report windows.
const (
	EarlierWindowDays = 23.0
	RecentWindowDays  = 7.0
)

// Output columns.
const (
	ColSpendOld      = domain.ColSpend + "_old"
	ColSpendNew      = domain.ColSpend + "_new"
	ColSpendVelocity = "花费速度"
)

// OutputSchema is the schema of Compare results.
var OutputSchema = table.NewSchema(
	domain.ColCampaignName,
	domain.ColPortfolio,
	ColSpendOld,
	ColSpendNew,
	ColSpendVelocity,
)

// SpendVelocity is the earlier daily spend rate minus the recent one, where the
// earlier rate spreads the difference between the two totals over the earlier
// window. Positive values mean spend is slowing down.
func SpendVelocity(oldSpend, newSpend float64) float64 {
	return (oldSpend-newSpend)/EarlierWindowDays - newSpend/RecentWindowDays
}

// Compare joins campaign rows of both periods on campaign name and returns
// those whose spend velocity exceeds spendThreshold. Campaigns absent from
// either side are dropped; the first earlier row wins for duplicate names.
// The earlier table is restricted to campaign rows only when it carries
// the entity level column.
// When names is non-empty only those campaigns are considered.
// Neither input is modified.
func Compare(previous, current *table.Table, spendThreshold float64, names []string) (*table.Table, error) {
	if err := previous.Schema().Require(domain.ColCampaignName, domain.ColSpend); err != nil {
		return nil, err
	}
	if err := current.Schema().Require(domain.ColEntityLevel, domain.ColCampaignName, domain.ColSpend); err != nil {
		return nil, err
	}
	// Earlier reports may be pre-filtered to campaigns and lack the level column.
	previousLeveled := previous.Schema().Has(domain.ColEntityLevel)

	var allowed map[string]struct{}
	if len(names) > 0 {
		allowed = make(map[string]struct{}, len(names))
		for _, n := range names {
			allowed[n] = struct{}{}
		}
	}

	earlier := make(map[string]float64)
	for _, r := range previous.Rows() {
		if previousLeveled && r.Text(domain.ColEntityLevel) != domain.EntityCampaign {
			continue
		}
		name := r.Text(domain.ColCampaignName)
		if _, seen := earlier[name]; seen {
			continue
		}
		earlier[name] = r.Number(domain.ColSpend)
	}

	out := table.New(OutputSchema)
	for _, r := range current.Rows() {
		if r.Text(domain.ColEntityLevel) != domain.EntityCampaign {
			continue
		}
		name := r.Text(domain.ColCampaignName)
		if allowed != nil {
			if _, ok := allowed[name]; !ok {
				continue
			}
		}
		oldSpend, ok := earlier[name]
		if !ok {
			continue
		}
		newSpend := r.Number(domain.ColSpend)
		v := SpendVelocity(oldSpend, newSpend)
		if math.IsNaN(v) || !(v > spendThreshold) {
			continue
		}

		if _, err := out.Append(
			table.Text(name),
			r.Get(domain.ColPortfolio),
			table.Float(oldSpend),
			table.Float(newSpend),
			table.Float(v),
		); err != nil {
			return nil, err
		}
	}
	return out, nil
}
