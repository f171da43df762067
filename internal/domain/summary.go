package domain

// Summary describes the outcome of one screening run.
type Summary struct {
	RunID       string `json:"runId"`
	Family      string `json:"family"`
	DisplayName string `json:"displayName"`
	InputRows   int    `json:"inputRows"`
	Matched     int    `json:"matched"`
	Paused      int    `json:"paused"`
	BidRaised   int    `json:"bidRaised"`
	BidLowered  int    `json:"bidLowered"`
	PctRaised   int    `json:"pctRaised"`
	PctLowered  int    `json:"pctLowered"`
	DurationMs  int64  `json:"durationMs"`
	FileName    string `json:"fileName,omitempty"`
}
