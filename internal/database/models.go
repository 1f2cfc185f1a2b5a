package database

import (
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/google/uuid"
)

// timeLayout is how timestamps are stored; text sorts chronologically in UTC
const timeLayout = time.RFC3339Nano

// AssessmentRecord is one persisted scoring run
type AssessmentRecord struct {
	ID         string              `json:"id"`
	Assessment analysis.Assessment `json:"assessment"`
}

// NewAssessmentRecord assigns a fresh record ID to an assessment
func NewAssessmentRecord(a analysis.Assessment) AssessmentRecord {
	return AssessmentRecord{
		ID:         uuid.New().String(),
		Assessment: a,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
