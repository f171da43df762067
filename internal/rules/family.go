package rules

import (
	"github.com/opensource-finance/adscreen/internal/domain"
)

// Policy constants. These are fixed and not caller-configurable.
const (
	BidStepDown        = 0.02
	BidStepUp          = 0.03
	PercentStepDown    = 5.0
	PercentStepUp      = 10.0
	PercentFloor       = 0.0
	ACOSCeilingStrict  = 0.25
	ACOSCeilingLoose   = 0.30
	InvalidBidFactor   = 0.8
	FreshCampaignDays  = 5.0
	SettledCampaignDay = 7.0
	FreshCampaignClick = 2.0
)

// Branch is one mutually exclusive condition of a family and the effects
// applied to the rows it matches.
type Branch struct {
	Name    string
	Expr    string
	Effects Mutation
}

// Family is the declaration of one screening.
type Family struct {
	Kind        domain.FamilyKind
	EntityLevel string
	Gate        Gate

	// Updates marks every matched row with the update action.
	Updates bool

	// Columns lists the metric columns the branches read.
	Columns []string

	// Branches are evaluated in order; the first true branch wins.
	Branches []Branch
}

// RequiredColumns returns every column the family reads or writes.
func (f *Family) RequiredColumns() []string {
	cols := append([]string{}, f.Gate.Columns()...)
	cols = append(cols, f.Columns...)
	if f.Updates {
		cols = append(cols, domain.ColAction)
	}
	for _, b := range f.Branches {
		cols = append(cols, b.Effects.Columns()...)
	}
	return cols
}

func pause() Mutation {
	return Mutation{SetText(domain.ColState, domain.StatePaused)}
}

// Families returns the row-level family declarations. The spend-decline
// screening compares two tables and is handled by the velocity package.
func Families() []Family {
	return []Family{
		{
			Kind:        domain.FamilyProduct,
			EntityLevel: domain.EntityProductAd,
			Gate:        GateStandard,
			Updates:     true,
			Columns:     []string{domain.ColClicks, domain.ColOrders, domain.ColACOS, domain.ColConversion},
			Branches: []Branch{
				{Name: "clicks-without-orders", Expr: `clicks > click_th && orders == 0.0`, Effects: pause()},
				{Name: "poor-return", Expr: `orders < order_th && acos > acos_th && conversion < conversion_th`, Effects: pause()},
			},
		},
		{
			Kind:        domain.FamilyAdTargeting,
			EntityLevel: domain.EntityProductTargeting,
			Gate:        GateStandard,
			Updates:     true,
			Columns:     []string{domain.ColSpend, domain.ColOrders, domain.ColACOS, domain.ColConversion},
			Branches: []Branch{
				{Name: "spend-without-orders", Expr: `spend > spend_th && orders == 0.0`, Effects: pause()},
				{Name: "bid-down", Expr: `conversion < conversion_th && spend > spend_th && acos > acos_th`,
					Effects: Mutation{Add(domain.ColBid, -BidStepDown)}},
				{Name: "bid-up", Expr: `conversion > conversion_th && acos < acos_loose`,
					Effects: Mutation{Add(domain.ColBid, BidStepUp)}},
			},
		},
		{
			Kind:        domain.FamilyBidPosition,
			EntityLevel: domain.EntityBidAdjustment,
			Gate:        GatePosition,
			Updates:     true,
			Columns:     []string{domain.ColSpend, domain.ColACOS, domain.ColConversion},
			Branches: []Branch{
				{Name: "percentage-down", Expr: `spend > spend_th && conversion < conversion_th && acos > acos_th`,
					Effects: Mutation{AddFloored(domain.ColPercentage, -PercentStepDown, PercentFloor)}},
				{Name: "percentage-up", Expr: `spend > spend_th && conversion > conversion_th && acos < acos_strict`,
					Effects: Mutation{Add(domain.ColPercentage, PercentStepUp)}},
			},
		},
		{
			Kind:    domain.FamilySearchTerm,
			Gate:    GateSearchTerm,
			Columns: []string{domain.ColClicks, domain.ColClickRate, domain.ColOrders, domain.ColConversion, domain.ColACOS},
			Branches: []Branch{
				{Name: "converting-term", Expr: `clicks > click_th && click_rate > click_rate_th && orders > order_th && conversion > conversion_th && acos < acos_strict`},
			},
		},
		{
			Kind:        domain.FamilyKeyword,
			EntityLevel: domain.EntityKeyword,
			Gate:        GateStandard,
			Columns:     []string{domain.ColClicks, domain.ColClickRate, domain.ColOrders, domain.ColConversion, domain.ColACOS},
			Branches: []Branch{
				{Name: "converting-keyword", Expr: `clicks > click_th && click_rate > click_rate_th && orders > order_th && conversion > conversion_th && acos < acos_loose`},
			},
		},
		{
			Kind:        domain.FamilyInvalidCampaign,
			EntityLevel: domain.EntityCampaign,
			Gate:        GateInvalidCampaign,
			Columns:     []string{domain.ColClicks, domain.ColStartDate},
			Branches: []Branch{
				{Name: "fresh-idle", Expr: `days_since_start >= fresh_days && days_since_start <= settled_days && clicks < fresh_clicks`},
				{Name: "settled-idle", Expr: `days_since_start > settled_days && clicks < click_th`},
			},
		},
	}
}
