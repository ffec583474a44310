package repository

import (
	"context"
	"errors"
	"strings"

	"legalchat-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("record not found")

const intakeColumns = `
	id, submitted_at, share_with_marketplace,
	full_name, email, phone, jurisdiction, matter_type, summary, goals, urgency,
	ai_summary, ai_score, ai_score_breakdown, ai_reasoning,
	ai_warnings, recommended_firms, applicable_laws`

// IntakeRepository handles database operations for intakes
type IntakeRepository struct {
	db *pgxpool.Pool
}

// NewIntakeRepository creates a new intake repository
func NewIntakeRepository(db *pgxpool.Pool) *IntakeRepository {
	return &IntakeRepository{db: db}
}

// Create inserts an intake and fills its id and submission time
func (r *IntakeRepository) Create(ctx context.Context, intake *models.IntakeRecord) error {
	intake.EnsureLists()
	query := `
		INSERT INTO intakes (
			share_with_marketplace,
			full_name, email, phone, jurisdiction, matter_type, summary, goals, urgency,
			ai_summary, ai_score, ai_score_breakdown, ai_reasoning,
			ai_warnings, recommended_firms, applicable_laws
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		) RETURNING id, submitted_at`

	return r.db.QueryRow(
		ctx, query,
		intake.ShareWithMarketplace,
		intake.Form.FullName,
		intake.Form.Email,
		intake.Form.Phone,
		intake.Form.Jurisdiction,
		intake.Form.MatterType,
		intake.Form.Summary,
		intake.Form.Goals,
		intake.Form.Urgency,
		intake.AISummary,
		intake.AIScore,
		intake.AIScoreBreakdown,
		intake.AIReasoning,
		intake.AIWarnings,
		intake.RecommendedFirms,
		intake.ApplicableLaws,
	).Scan(&intake.ID, &intake.SubmittedAt)
}

// GetByID retrieves an intake by ID
func (r *IntakeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.IntakeRecord, error) {
	query := `SELECT ` + intakeColumns + ` FROM intakes WHERE id = $1`

	intake, err := scanIntake(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return intake, nil
}

// List returns intakes newest first. A non-nil matterType filters
// case-insensitively.
func (r *IntakeRepository) List(ctx context.Context, matterType *string) ([]models.IntakeRecord, error) {
	query := `SELECT ` + intakeColumns + ` FROM intakes`
	var args []interface{}
	if matterType != nil {
		query += ` WHERE LOWER(matter_type) = $1`
		args = append(args, strings.ToLower(strings.TrimSpace(*matterType)))
	}
	query += ` ORDER BY submitted_at DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	intakes := make([]models.IntakeRecord, 0)
	for rows.Next() {
		intake, err := scanIntake(rows)
		if err != nil {
			return nil, err
		}
		intakes = append(intakes, *intake)
	}
	return intakes, rows.Err()
}

// Delete removes an intake. It returns ErrNotFound when nothing was deleted.
func (r *IntakeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM intakes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanIntake(row pgx.Row) (*models.IntakeRecord, error) {
	intake := &models.IntakeRecord{}
	err := row.Scan(
		&intake.ID,
		&intake.SubmittedAt,
		&intake.ShareWithMarketplace,
		&intake.Form.FullName,
		&intake.Form.Email,
		&intake.Form.Phone,
		&intake.Form.Jurisdiction,
		&intake.Form.MatterType,
		&intake.Form.Summary,
		&intake.Form.Goals,
		&intake.Form.Urgency,
		&intake.AISummary,
		&intake.AIScore,
		&intake.AIScoreBreakdown,
		&intake.AIReasoning,
		&intake.AIWarnings,
		&intake.RecommendedFirms,
		&intake.ApplicableLaws,
	)
	if err != nil {
		return nil, err
	}
	intake.EnsureLists()
	return intake, nil
}
