package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/goccy/go-json"
	"github.com/willbeason/bondsmith/jsonio"
)

var ErrIngest = errors.New("ingest")

// Rejection records why an input record was skipped
type Rejection struct {
	Record int    `json:"record"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// Report summarizes one ingestion run
type Report struct {
	Read       int         `json:"read"`
	Accepted   int         `json:"accepted"`
	Duplicates int         `json:"duplicates"`
	Rejected   []Rejection `json:"rejected"`
}

func (r *Report) reject(record int, id, reason string) {
	r.Rejected = append(r.Rejected, Rejection{Record: record, ID: id, Reason: reason})
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexKeywords accepts a delimited string or a list of strings
type flexKeywords []string

func (f *flexKeywords) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = []string{s}
	return nil
}

// rawAward is one JSONL line. Alternate field names found in SBIR.gov
// extracts are accepted alongside the canonical ones.
type rawAward struct {
	ID              flexString   `json:"id"`
	AwardID         flexString   `json:"award_id"`
	TrackingNumber  flexString   `json:"agency_tracking_number"`
	Agency          string       `json:"agency"`
	Branch          string       `json:"branch"`
	Title           string       `json:"title"`
	AwardTitle      string       `json:"award_title"`
	Abstract        string       `json:"abstract"`
	Keywords        flexKeywords `json:"keywords"`
	ResearchKw      flexKeywords `json:"research_area_keywords"`
	TopicCode       flexString   `json:"topic_code"`
	Program         string       `json:"program"`
	Phase           flexString   `json:"phase"`
	Firm            string       `json:"firm"`
	Company         string       `json:"company"`
	AwardDate       string       `json:"award_date"`
	ProposalDate    string       `json:"proposal_award_date"`
	ObligatedAmount flexString   `json:"obligated_amount"`
	AwardAmount     flexString   `json:"award_amount"`
	Labels          []string     `json:"labels"`
	Text            string       `json:"text"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// parseAmount accepts plain and currency-formatted numbers
func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if v < 0 {
		return 0, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}

func (r *rawAward) award() (types.Award, error) {
	a := types.Award{
		ID:        firstNonEmpty(string(r.AwardID), string(r.ID), string(r.TrackingNumber)),
		Agency:    r.Agency,
		Branch:    r.Branch,
		Title:     firstNonEmpty(r.Title, r.AwardTitle),
		Abstract:  r.Abstract,
		Keywords:  append(append([]string{}, r.Keywords...), r.ResearchKw...),
		TopicCode: string(r.TopicCode),
		Program:   r.Program,
		Phase:     string(r.Phase),
		Firm:      firstNonEmpty(r.Firm, r.Company),
	}

	date := firstNonEmpty(r.AwardDate, r.ProposalDate)
	t, ok := ParseDate(date)
	if !ok {
		return a, fmt.Errorf("invalid award date %q", date)
	}
	a.AwardDate = t

	amount, err := parseAmount(firstNonEmpty(string(r.ObligatedAmount), string(r.AwardAmount)))
	if err != nil {
		return a, err
	}
	a.ObligatedAmount = amount

	return NormalizeAward(a), nil
}

// collector dedupes accepted awards by ID. A later record replaces an
// earlier one in place.
type collector struct {
	awards []types.Award
	index  map[string]int
	report Report
}

func newCollector() *collector {
	return &collector{index: make(map[string]int)}
}

func (c *collector) add(record int, a types.Award, err error) {
	c.report.Read++
	if err != nil {
		c.report.reject(record, strings.TrimSpace(a.ID), err.Error())
		return
	}
	if a.ID == "" {
		c.report.reject(record, "", "missing award id")
		return
	}
	if i, dup := c.index[a.ID]; dup {
		c.awards[i] = a
		c.report.Duplicates++
		return
	}
	c.index[a.ID] = len(c.awards)
	c.awards = append(c.awards, a)
	c.report.Accepted++
}

// ReadJSONL decodes one award per line. Malformed JSON aborts the read;
// records that decode but fail validation are rejected and reported.
func ReadJSONL(ctx context.Context, r io.Reader) ([]types.Award, Report, error) {
	c := newCollector()

	records := jsonio.NewReader(r, func() *rawAward { return &rawAward{} })
	record := 0
	for raw, err := range records.Read() {
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, c.report, fmt.Errorf("%w: record %d: %w", ErrIngest, record+1, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, c.report, err
		}
		record++
		a, convErr := raw.award()
		c.add(record, a, convErr)
	}

	return c.awards, c.report, nil
}

// csvColumns maps normalized header names to award fields
var csvColumns = map[string]string{
	"id":                     "id",
	"award_id":               "id",
	"agency_tracking_number": "id",
	"agency":                 "agency",
	"branch":                 "branch",
	"title":                  "title",
	"award_title":            "title",
	"abstract":               "abstract",
	"keywords":               "keywords",
	"research_area_keywords": "keywords",
	"topic_code":             "topic_code",
	"program":                "program",
	"phase":                  "phase",
	"firm":                   "firm",
	"company":                "firm",
	"award_date":             "award_date",
	"proposal_award_date":    "award_date",
	"obligated_amount":       "amount",
	"award_amount":           "amount",
}

func headerKey(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.Join(strings.Fields(h), "_")
}

// ReadCSV reads awards from a CSV file with a header row. Header names are
// matched case-insensitively; unknown columns are ignored.
func ReadCSV(ctx context.Context, r io.Reader) ([]types.Award, Report, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, Report{}, fmt.Errorf("%w: reading csv header: %w", ErrIngest, err)
	}

	positions := make(map[string]int)
	for i, h := range header {
		field, ok := csvColumns[headerKey(h)]
		if !ok {
			continue
		}
		if _, seen := positions[field]; !seen {
			positions[field] = i
		}
	}
	if _, ok := positions["id"]; !ok {
		return nil, Report{}, fmt.Errorf("%w: csv header has no award id column", ErrIngest)
	}

	c := newCollector()
	for record := 1; ; record++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, c.report, fmt.Errorf("%w: csv record %d: %w", ErrIngest, record, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, c.report, err
		}

		get := func(field string) string {
			i, ok := positions[field]
			if !ok || i >= len(row) {
				return ""
			}
			return row[i]
		}
		raw := rawAward{
			ID:              flexString(get("id")),
			Agency:          get("agency"),
			Branch:          get("branch"),
			Title:           get("title"),
			Abstract:        get("abstract"),
			Keywords:        flexKeywords{get("keywords")},
			TopicCode:       flexString(get("topic_code")),
			Program:         get("program"),
			Phase:           flexString(get("phase")),
			Firm:            get("firm"),
			AwardDate:       get("award_date"),
			ObligatedAmount: flexString(get("amount")),
		}
		a, convErr := raw.award()
		c.add(record, a, convErr)
	}

	return c.awards, c.report, nil
}
