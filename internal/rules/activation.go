package rules

import (
	"math"
	"time"

	"github.com/google/cel-go/interpreter"
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/table"
)

const varDaysSinceStart = "days_since_start"

// rowVariables maps CEL row variables to the columns they read.
var rowVariables = map[string]string{
	"clicks":          domain.ColClicks,
	"orders":          domain.ColOrders,
	"spend":           domain.ColSpend,
	"acos":            domain.ColACOS,
	"conversion":      domain.ColConversion,
	"click_rate":      domain.ColClickRate,
	varDaysSinceStart: domain.ColStartDate,
}

var thresholdVariables = []string{
	"click_th", "order_th", "acos_th", "conversion_th", "spend_th", "click_rate_th",
}

func thresholdBindings(t domain.Thresholds) map[string]any {
	return map[string]any{
		"click_th":      t.Click,
		"order_th":      t.Order,
		"acos_th":       t.ACOS,
		"conversion_th": t.Conversion,
		"spend_th":      t.Spend,
		"click_rate_th": t.ClickRate,
	}
}

// rowActivation resolves CEL variables against a single record.
// Missing or non-numeric cells resolve to NaN.
type rowActivation struct {
	rec        *table.Record
	thresholds map[string]any
	now        time.Time

	days      float64
	daysReady bool
}

var _ interpreter.Activation = (*rowActivation)(nil)

func (a *rowActivation) ResolveName(name string) (any, bool) {
	if name == varDaysSinceStart {
		return a.daysSinceStart(), true
	}
	if col, ok := rowVariables[name]; ok {
		return a.rec.Number(col), true
	}
	v, ok := a.thresholds[name]
	return v, ok
}

func (a *rowActivation) Parent() interpreter.Activation { return nil }

// daysSinceStart counts calendar days from the start date to today in the
// clock's location. An unreadable start date is unknown and yields NaN.
func (a *rowActivation) daysSinceStart() float64 {
	if a.daysReady {
		return a.days
	}
	a.daysReady = true
	a.days = math.NaN()

	start, err := a.rec.Get(domain.ColStartDate).Time()
	if err != nil {
		return a.days
	}
	a.days = calendarDays(start, a.now)
	return a.days
}

// calendarDays is the number of midnights between the date of start and
// the date of now, both read in now's location. Rounding absorbs DST shifts.
func calendarDays(start, now time.Time) float64 {
	loc := now.Location()
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return math.Round(to.Sub(from).Hours() / 24)
}

// number returns the numeric value bound to a row variable.
func (a *rowActivation) number(name string) float64 {
	v, _ := a.ResolveName(name)
	f, ok := v.(float64)
	if !ok {
		return math.NaN()
	}
	return f
}
