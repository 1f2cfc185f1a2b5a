package types

import "time"

// Award represents an ingested SBIR/STTR award record
type Award struct {
	ID              string    `json:"id" binding:"required"`
	Agency          string    `json:"agency"`
	Branch          string    `json:"branch,omitempty"`
	Title           string    `json:"title"`
	Abstract        string    `json:"abstract"`
	Keywords        []string  `json:"keywords"`
	TopicCode       string    `json:"topic_code,omitempty"`
	Program         string    `json:"program,omitempty"`
	Phase           string    `json:"phase,omitempty"`
	Firm            string    `json:"firm,omitempty"`
	AwardDate       time.Time `json:"award_date"`
	ObligatedAmount float64   `json:"obligated_amount"`
}

// Enrichment holds externally resolved description text for an award
type Enrichment struct {
	Description string    `json:"description"`
	Keywords    []string  `json:"keywords"`
	Source      string    `json:"source,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// ScoreRequest represents the request structure for the score endpoint
type ScoreRequest struct {
	Award      Award       `json:"award" binding:"required"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`
	Persist    bool        `json:"persist"`
}

// BatchScoreRequest represents the request structure for the batch score endpoint
type BatchScoreRequest struct {
	Awards  []Award `json:"awards" binding:"required,min=1"`
	Persist bool    `json:"persist"`
}

// ExportRequest represents the request structure for governed exports
type ExportRequest struct {
	Format     string   `json:"format"`
	Categories []string `json:"categories,omitempty"`
	Bands      []string `json:"bands,omitempty"`
	Agencies   []string `json:"agencies,omitempty"`
	Fields     []string `json:"fields,omitempty"`
}
