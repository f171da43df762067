package rules

import (
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/table"
)

var testSchema = table.NewSchema(
	domain.ColEntityLevel,
	domain.ColCampaignState,
	domain.ColAdGroupState,
	domain.ColState,
	domain.ColPortfolio,
	domain.ColCampaignName,
	domain.ColClicks,
	domain.ColOrders,
	domain.ColSpend,
	domain.ColClickRate,
	domain.ColConversion,
	domain.ColACOS,
	domain.ColBid,
	domain.ColPercentage,
	domain.ColStartDate,
	domain.ColAction,
)

var testNow = time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)

// row describes one fixture record. Blank states default to enabled.
type row struct {
	level         string
	campaignState string
	adGroupState  string
	state         string
	portfolio     string
	campaign      string
	clicks        int64
	orders        int64
	spend         float64
	clickRate     float64
	conversion    float64
	acos          float64
	bid           float64
	pct           float64
	start         string
}

func orEnabled(s string) string {
	if s == "" {
		return domain.StateEnabled
	}
	return s
}

func newTable(t testing.TB, rows ...row) *table.Table {
	t.Helper()
	tbl := table.New(testSchema)
	for _, r := range rows {
		start := table.Null()
		if r.start != "" {
			if d, err := table.ParseDate(r.start); err == nil {
				start = table.Date(d)
			} else {
				start = table.Text(r.start)
			}
		}
		_, err := tbl.Append(
			table.Text(r.level),
			table.Text(orEnabled(r.campaignState)),
			table.Text(orEnabled(r.adGroupState)),
			table.Text(orEnabled(r.state)),
			table.Text(r.portfolio),
			table.Text(r.campaign),
			table.Int(r.clicks),
			table.Int(r.orders),
			table.Float(r.spend),
			table.Float(r.clickRate),
			table.Float(r.conversion),
			table.Float(r.acos),
			table.Float(r.bid),
			table.Float(r.pct),
			start,
			table.Null(),
		)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return tbl
}

func newTestEngine(t testing.TB, cfg domain.EngineConfig) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg, WithClock(clockwork.NewFakeClockAt(testNow)))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func testThresholds() domain.Thresholds {
	return domain.Thresholds{
		Click:      10,
		Order:      2,
		ACOS:       0.3,
		Conversion: 0.10,
		Spend:      2.0,
		ClickRate:  0.01,
	}
}

// campaigns returns the sorted campaign names of a table.
func campaigns(tbl *table.Table) []string {
	out := make([]string, 0, tbl.Len())
	for _, r := range tbl.Rows() {
		out = append(out, r.Text(domain.ColCampaignName))
	}
	sort.Strings(out)
	return out
}
