package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	apperrors "github.com/ZanzyTHEbar/sbir-cet-classifier/internal/errors"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	json "github.com/goccy/go-json"
)

// Repository handles database operations
type Repository struct {
	db  *DB
	now func() time.Time
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) stmt(name string) (*sql.Stmt, error) {
	return r.db.GetPreparedStatement(name)
}

// UpsertAwards inserts or replaces awards in one transaction
func (r *Repository) UpsertAwards(ctx context.Context, awards []types.Award) error {
	base, err := r.stmt("upsert_award")
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, base)
	updatedAt := formatTime(r.now())
	for _, a := range awards {
		keywords, err := json.Marshal(a.Keywords)
		if err != nil {
			return fmt.Errorf("failed to encode keywords for award %s: %w", a.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.Agency, a.Branch, a.Title, a.Abstract, string(keywords), a.TopicCode,
			a.Program, a.Phase, a.Firm, formatTime(a.AwardDate), a.ObligatedAmount, updatedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert award %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit awards: %w", err)
	}
	return nil
}

// GetAward returns an award by ID or an error wrapping apperrors.ErrNotFound
func (r *Repository) GetAward(ctx context.Context, id string) (types.Award, error) {
	stmt, err := r.stmt("get_award")
	if err != nil {
		return types.Award{}, err
	}
	award, err := scanAward(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Award{}, fmt.Errorf("award %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return types.Award{}, fmt.Errorf("failed to get award %s: %w", id, err)
	}
	return award, nil
}

// ListAwards returns every award ordered by ID
func (r *Repository) ListAwards(ctx context.Context) ([]types.Award, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, agency, branch, title, abstract, keywords, topic_code, program,
		phase, firm, award_date, obligated_amount
		FROM awards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list awards: %w", err)
	}
	defer rows.Close()

	var awards []types.Award
	for rows.Next() {
		award, err := scanAward(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan award: %w", err)
		}
		awards = append(awards, award)
	}
	return awards, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAward(row rowScanner) (types.Award, error) {
	var (
		a                                        types.Award
		branch, abstract, keywords, topic, phase sql.NullString
		program, firm, awardDate                 sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Agency, &branch, &a.Title, &abstract, &keywords, &topic,
		&program, &phase, &firm, &awardDate, &a.ObligatedAmount); err != nil {
		return types.Award{}, err
	}
	a.Branch = branch.String
	a.Abstract = abstract.String
	a.TopicCode = topic.String
	a.Program = program.String
	a.Phase = phase.String
	a.Firm = firm.String

	if keywords.String != "" && keywords.String != "null" {
		if err := json.Unmarshal([]byte(keywords.String), &a.Keywords); err != nil {
			return types.Award{}, fmt.Errorf("decode keywords: %w", err)
		}
	}
	date, err := parseTime(awardDate.String)
	if err != nil {
		return types.Award{}, fmt.Errorf("decode award date: %w", err)
	}
	a.AwardDate = date
	return a, nil
}

// SaveAssessment appends an assessment to the award's history and returns the record ID
func (r *Repository) SaveAssessment(ctx context.Context, a analysis.Assessment) (string, error) {
	stmt, err := r.stmt("insert_assessment")
	if err != nil {
		return "", err
	}
	rec := NewAssessmentRecord(a)
	if err := insertAssessment(ctx, stmt, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// SaveAssessments appends a batch of assessments in one transaction
func (r *Repository) SaveAssessments(ctx context.Context, assessments []analysis.Assessment) ([]string, error) {
	base, err := r.stmt("insert_assessment")
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, base)
	ids := make([]string, 0, len(assessments))
	for _, a := range assessments {
		rec := NewAssessmentRecord(a)
		if err := insertAssessment(ctx, stmt, rec); err != nil {
			return nil, err
		}
		ids = append(ids, rec.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assessments: %w", err)
	}
	return ids, nil
}

func insertAssessment(ctx context.Context, stmt *sql.Stmt, rec AssessmentRecord) error {
	a := rec.Assessment
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assessment for award %s: %w", a.AwardID, err)
	}
	if _, err := stmt.ExecContext(ctx,
		rec.ID, a.AwardID, a.PrimaryCategory, a.PrimaryScore, a.Band.String(), a.Method.String(),
		a.TaxonomyVersion, a.ModelVersion, string(payload), formatTime(a.ScoredAt),
	); err != nil {
		return fmt.Errorf("failed to insert assessment for award %s: %w", a.AwardID, err)
	}
	return nil
}

// LatestAssessment returns the most recent assessment of an award
func (r *Repository) LatestAssessment(ctx context.Context, awardID string) (AssessmentRecord, error) {
	stmt, err := r.stmt("latest_assessment")
	if err != nil {
		return AssessmentRecord{}, err
	}
	rec, err := scanAssessment(stmt.QueryRowContext(ctx, awardID))
	if errors.Is(err, sql.ErrNoRows) {
		return AssessmentRecord{}, fmt.Errorf("assessment for award %s: %w", awardID, apperrors.ErrNotFound)
	}
	if err != nil {
		return AssessmentRecord{}, fmt.Errorf("failed to get latest assessment for award %s: %w", awardID, err)
	}
	return rec, nil
}

// AssessmentHistory returns every assessment of an award, newest first
func (r *Repository) AssessmentHistory(ctx context.Context, awardID string) ([]AssessmentRecord, error) {
	stmt, err := r.stmt("assessment_history")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, awardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assessment history: %w", err)
	}
	return collectAssessments(rows)
}

// LatestAssessments returns the newest assessment of every scored award, ordered by award ID
func (r *Repository) LatestAssessments(ctx context.Context) ([]AssessmentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, payload FROM assessments
		WHERE seq IN (SELECT MAX(seq) FROM assessments GROUP BY award_id)
		ORDER BY award_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest assessments: %w", err)
	}
	return collectAssessments(rows)
}

func collectAssessments(rows *sql.Rows) ([]AssessmentRecord, error) {
	defer rows.Close()

	var records []AssessmentRecord
	for rows.Next() {
		rec, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanAssessment(row rowScanner) (AssessmentRecord, error) {
	var (
		rec     AssessmentRecord
		payload string
	)
	if err := row.Scan(&rec.ID, &payload); err != nil {
		return AssessmentRecord{}, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Assessment); err != nil {
		return AssessmentRecord{}, fmt.Errorf("decode assessment %s: %w", rec.ID, err)
	}
	return rec, nil
}

// PutEnrichment caches resolved enrichment text for an award
func (r *Repository) PutEnrichment(ctx context.Context, awardID string, e types.Enrichment) error {
	stmt, err := r.stmt("upsert_enrichment")
	if err != nil {
		return err
	}
	keywords, err := json.Marshal(e.Keywords)
	if err != nil {
		return fmt.Errorf("failed to encode enrichment keywords: %w", err)
	}
	fetchedAt := e.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = r.now()
	}
	if _, err := stmt.ExecContext(ctx, awardID, e.Description, string(keywords), e.Source, formatTime(fetchedAt)); err != nil {
		return fmt.Errorf("failed to cache enrichment for award %s: %w", awardID, err)
	}
	return nil
}

// GetEnrichment returns cached enrichment or an error wrapping apperrors.ErrNotFound
func (r *Repository) GetEnrichment(ctx context.Context, awardID string) (types.Enrichment, error) {
	stmt, err := r.stmt("get_enrichment")
	if err != nil {
		return types.Enrichment{}, err
	}

	var (
		e                types.Enrichment
		keywords, source sql.NullString
		fetchedAt        string
	)
	err = stmt.QueryRowContext(ctx, awardID).Scan(&e.Description, &keywords, &source, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Enrichment{}, fmt.Errorf("enrichment for award %s: %w", awardID, apperrors.ErrNotFound)
	}
	if err != nil {
		return types.Enrichment{}, fmt.Errorf("failed to get enrichment for award %s: %w", awardID, err)
	}

	if keywords.String != "" && keywords.String != "null" {
		if err := json.Unmarshal([]byte(keywords.String), &e.Keywords); err != nil {
			return types.Enrichment{}, fmt.Errorf("decode enrichment keywords: %w", err)
		}
	}
	e.Source = source.String
	if e.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return types.Enrichment{}, fmt.Errorf("decode enrichment time: %w", err)
	}
	return e, nil
}

// ResolveEnrichment returns the cached enrichment for each award that has one
func (r *Repository) ResolveEnrichment(ctx context.Context, awardIDs []string) (map[string]*types.Enrichment, error) {
	out := make(map[string]*types.Enrichment)
	for _, id := range awardIDs {
		e, err := r.GetEnrichment(ctx, id)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = &e
	}
	return out, nil
}
