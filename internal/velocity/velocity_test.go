package velocity

import (
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/table"
)

var periodSchema = table.NewSchema(
	domain.ColEntityLevel,
	domain.ColCampaignName,
	domain.ColPortfolio,
	domain.ColSpend,
)

type campaign struct {
	level string
	name  string
	spend float64
}

func newPeriod(t *testing.T, rows ...campaign) *table.Table {
	t.Helper()
	tbl := table.New(periodSchema)
	for _, c := range rows {
		if _, err := tbl.Append(table.Text(c.level), table.Text(c.name), table.Text("P-"+c.name), table.Float(c.spend)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return tbl
}

func TestSpendVelocity(t *testing.T) {
	got := SpendVelocity(100, 50)
	want := 50.0/23 - 50.0/7
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %.4f, got %.4f", want, got)
	}
	if math.Abs(got-(-4.97)) > 0.01 {
		t.Errorf("expected about -4.97, got %.4f", got)
	}
}

func TestCompare(t *testing.T) {
	t.Run("RecentDropIsNotSelected", func(t *testing.T) {
		old := newPeriod(t, campaign{domain.EntityCampaign, "A", 100})
		cur := newPeriod(t, campaign{domain.EntityCampaign, "A", 50})

		out, err := Compare(old, cur, 1.0, nil)
		if err != nil {
			t.Fatalf("Compare failed: %v", err)
		}
		if out.Len() != 0 {
			t.Errorf("expected no rows for velocity -4.97, got %d", out.Len())
		}
	})

	t.Run("StalledSpendIsSelected", func(t *testing.T) {
		old := newPeriod(t, campaign{domain.EntityCampaign, "A", 300})
		cur := newPeriod(t, campaign{domain.EntityCampaign, "A", 7})

		out, err := Compare(old, cur, 1.0, nil)
		if err != nil {
			t.Fatalf("Compare failed: %v", err)
		}
		if out.Len() != 1 {
			t.Fatalf("expected 1 row, got %d", out.Len())
		}
		r := out.Row(0)
		if r.Text(domain.ColCampaignName) != "A" {
			t.Errorf("expected campaign A, got %s", r.Text(domain.ColCampaignName))
		}
		if got, want := r.Number(ColSpendVelocity), SpendVelocity(300, 7); got != want {
			t.Errorf("expected velocity %v, got %v", want, got)
		}
		if r.Text(domain.ColPortfolio) != "P-A" {
			t.Errorf("expected portfolio carried over, got %s", r.Text(domain.ColPortfolio))
		}
	})

	t.Run("InnerJoinOnCampaignRows", func(t *testing.T) {
		old := newPeriod(t,
			campaign{domain.EntityCampaign, "A", 300},
			campaign{domain.EntityCampaign, "OnlyOld", 300},
			campaign{domain.EntityKeyword, "B", 300},
		)
		cur := newPeriod(t,
			campaign{domain.EntityCampaign, "A", 0},
			campaign{domain.EntityCampaign, "OnlyNew", 0},
			campaign{domain.EntityKeyword, "B", 0},
		)

		out, err := Compare(old, cur, 1.0, nil)
		if err != nil {
			t.Fatalf("Compare failed: %v", err)
		}
		if out.Len() != 1 || out.Row(0).Text(domain.ColCampaignName) != "A" {
			t.Errorf("expected only campaign A, got %d rows", out.Len())
		}
	})

	t.Run("NameFilter", func(t *testing.T) {
		old := newPeriod(t, campaign{domain.EntityCampaign, "A", 300}, campaign{domain.EntityCampaign, "B", 300})
		cur := newPeriod(t, campaign{domain.EntityCampaign, "A", 0}, campaign{domain.EntityCampaign, "B", 0})

		out, err := Compare(old, cur, 1.0, []string{"B"})
		if err != nil {
			t.Fatalf("Compare failed: %v", err)
		}
		if out.Len() != 1 || out.Row(0).Text(domain.ColCampaignName) != "B" {
			t.Errorf("expected only campaign B, got %d rows", out.Len())
		}
	})

	t.Run("InputsUntouched", func(t *testing.T) {
		old := newPeriod(t, campaign{domain.EntityCampaign, "A", 300})
		cur := newPeriod(t, campaign{domain.EntityCampaign, "A", 0})

		if _, err := Compare(old, cur, 1.0, nil); err != nil {
			t.Fatalf("Compare failed: %v", err)
		}
		if old.Row(0).Number(domain.ColSpend) != 300 || cur.Row(0).Number(domain.ColSpend) != 0 {
			t.Error("expected inputs to be unchanged")
		}
		if old.Schema().Len() != 4 || cur.Schema().Len() != 4 {
			t.Error("expected input schemas to be unchanged")
		}
	})

	t.Run("MissingSpendIsSkipped", func(t *testing.T) {
		old := newPeriod(t, campaign{domain.EntityCampaign, "A", 300})
		cur := newPeriod(t, campaign{domain.EntityCampaign, "A", 0})
		_ = cur.Row(0).Set(domain.ColSpend, table.Null())

		out, err := Compare(old, cur, -100, nil)
		if err != nil {
			t.Fatalf("Compare failed: %v", err)
		}
		if out.Len() != 0 {
			t.Errorf("expected unknown spend to be skipped, got %d rows", out.Len())
		}
	})

	t.Run("PreviousWithoutEntityLevel", func(t *testing.T) {
		old := table.New(table.NewSchema(domain.ColCampaignName, domain.ColSpend))
		for _, r := range []struct {
			name  string
			spend float64
		}{{"A", 300}, {"B", 10}} {
			if _, err := old.Append(table.Text(r.name), table.Float(r.spend)); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
		}
		cur := newPeriod(t,
			campaign{domain.EntityCampaign, "A", 0},
			campaign{domain.EntityCampaign, "B", 0},
			campaign{domain.EntityKeyword, "A", 0},
		)

		out, err := Compare(old, cur, 1.0, nil)
		if err != nil {
			t.Fatalf("Compare failed: %v", err)
		}
		if out.Len() != 1 || out.Row(0).Text(domain.ColCampaignName) != "A" {
			t.Errorf("expected only campaign A, got %d rows", out.Len())
		}
	})

	t.Run("CurrentRequiresEntityLevel", func(t *testing.T) {
		old := newPeriod(t, campaign{domain.EntityCampaign, "A", 300})
		cur := table.New(table.NewSchema(domain.ColCampaignName, domain.ColSpend))

		_, err := Compare(old, cur, 1.0, nil)
		var schemaErr *table.SchemaError
		if !errors.As(err, &schemaErr) || schemaErr.Column != domain.ColEntityLevel {
			t.Fatalf("expected missing %s, got %v", domain.ColEntityLevel, err)
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		old := table.New(table.NewSchema(domain.ColEntityLevel, domain.ColCampaignName))
		cur := newPeriod(t)

		_, err := Compare(old, cur, 1.0, nil)
		var schemaErr *table.SchemaError
		if !errors.As(err, &schemaErr) {
			t.Fatalf("expected SchemaError, got %v", err)
		}
		if schemaErr.Column != domain.ColSpend {
			t.Errorf("expected missing %s, got %s", domain.ColSpend, schemaErr.Column)
		}
	})
}
