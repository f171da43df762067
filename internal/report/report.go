// Package report turns screening outcomes into summaries for logs, API
// responses and events.
package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/rules"
	"github.com/opensource-finance/adscreen/internal/table"
)

// Summarize aggregates branch hits into a Summary. An empty runID gets a new one.
func Summarize(runID string, outcome *rules.Outcome, started time.Time) domain.Summary {
	if runID == "" {
		runID = uuid.New().String()
	}

	s := domain.Summary{
		RunID:       runID,
		Family:      outcome.Family.String(),
		DisplayName: outcome.Family.DisplayName(),
		InputRows:   outcome.InputRows,
		Matched:     outcome.Table.Len(),
		DurationMs:  time.Since(started).Milliseconds(),
	}

	for _, hit := range outcome.Hits {
		if hit.Rows == 0 {
			continue
		}
		for _, e := range hit.Effects {
			switch {
			case e.Column == domain.ColState && e.Op == rules.OpSet && e.Text == domain.StatePaused:
				s.Paused += hit.Rows
			case e.Column == domain.ColBid:
				count(&s.BidRaised, &s.BidLowered, e.Direction(), hit.Rows)
			case e.Column == domain.ColPercentage:
				count(&s.PctRaised, &s.PctLowered, e.Direction(), hit.Rows)
			}
		}
	}
	return s
}

func count(raised, lowered *int, direction, rows int) {
	switch {
	case direction > 0:
		*raised += rows
	case direction < 0:
		*lowered += rows
	}
}

// Changed returns the number of rows the screening asks to change.
func Changed(s domain.Summary) int {
	return s.Paused + s.BidRaised + s.BidLowered + s.PctRaised + s.PctLowered
}

// Message returns the operator-facing status line for a summary.
func Message(s domain.Summary) string {
	if s.Matched == 0 {
		return "no matching records"
	}
	return "screening completed"
}

// Build summarizes an outcome and encodes its table as a downloadable CSV.
func Build(runID string, outcome *rules.Outcome, started time.Time, fileName string) (*domain.Result, error) {
	summary := Summarize(runID, outcome, started)
	summary.FileName = fileName

	var buf bytes.Buffer
	if err := table.WriteCSV(&buf, outcome.Table); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &domain.Result{
		RunID:    summary.RunID,
		FileName: fileName,
		Summary:  summary,
		CSV:      buf.Bytes(),
	}, nil
}
