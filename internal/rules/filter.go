package rules

import (
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/table"
)

// Gate selects the base eligibility predicate a family screens behind.
type Gate int

const (
	// GateStandard requires campaign, ad group and entity to be enabled
	// and the entity level to match.
	GateStandard Gate = iota

	// GatePosition requires only the entity level to match.
	GatePosition

	// GateSearchTerm applies no gating. Search-term reports carry no state columns.
	GateSearchTerm

	// GateInvalidCampaign requires the campaign to be enabled and the entity level to match.
	GateInvalidCampaign
)

// Columns returns the columns the gate reads.
func (g Gate) Columns() []string {
	switch g {
	case GateStandard:
		return []string{domain.ColEntityLevel, domain.ColCampaignState, domain.ColAdGroupState, domain.ColState}
	case GatePosition:
		return []string{domain.ColEntityLevel}
	case GateInvalidCampaign:
		return []string{domain.ColEntityLevel, domain.ColCampaignState}
	default:
		return nil
	}
}

// Eligible reports whether a record passes the gate for entityLevel.
func (g Gate) Eligible(r *table.Record, entityLevel string) bool {
	switch g {
	case GateStandard:
		return r.Text(domain.ColCampaignState) == domain.StateEnabled &&
			r.Text(domain.ColAdGroupState) == domain.StateEnabled &&
			r.Text(domain.ColState) == domain.StateEnabled &&
			r.Text(domain.ColEntityLevel) == entityLevel
	case GatePosition:
		return r.Text(domain.ColEntityLevel) == entityLevel
	case GateInvalidCampaign:
		return r.Text(domain.ColCampaignState) == domain.StateEnabled &&
			r.Text(domain.ColEntityLevel) == entityLevel
	default:
		return true
	}
}

// Condition is a pure per-record predicate.
type Condition func(r *table.Record) (bool, error)

// Filter returns the rows of t that pass gate and cond, restricted to
// rows whose portfolio is in ids when ids is non-empty. t is not modified.
func Filter(t *table.Table, ids []string, cond Condition, entityLevel string, gate Gate) (*table.Table, error) {
	if err := t.Schema().Require(gate.Columns()...); err != nil {
		return nil, err
	}

	var allowed map[string]struct{}
	if len(ids) > 0 {
		if err := t.Schema().Require(domain.ColPortfolio); err != nil {
			return nil, err
		}
		allowed = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			allowed[id] = struct{}{}
		}
	}

	return t.Select(func(r *table.Record) (bool, error) {
		if !gate.Eligible(r, entityLevel) {
			return false, nil
		}
		if allowed != nil {
			if _, ok := allowed[r.Text(domain.ColPortfolio)]; !ok {
				return false, nil
			}
		}
		return cond(r)
	})
}
