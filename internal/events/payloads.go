package events

// SubmittedLine is one treatment line of a submitted quote.
type SubmittedLine struct {
	TreatmentID string `json:"treatmentId"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Subtotal    int64  `json:"subtotal"`
}

// QuoteSubmitted is the payload of TopicQuoteSubmitted.
type QuoteSubmitted struct {
	SubmissionID string          `json:"submissionId"`
	SessionID    string          `json:"sessionId"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Currency     string          `json:"currency"`
	Code         string          `json:"code,omitempty"`
	PackageName  string          `json:"packageName,omitempty"`
	Lines        []SubmittedLine `json:"lines"`
	Subtotal     int64           `json:"subtotal"`
	Discount     int64           `json:"discount"`
	Total        int64           `json:"total"`
	IntentID     string          `json:"intentId,omitempty"`
}
