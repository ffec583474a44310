package repository

import (
	"context"
	"testing"
	"time"

	"legalchat-backend/migrations"
	"legalchat-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcPostgres.WithDatabase("legalchat"),
		tcPostgres.WithUsername("legalchat"),
		tcPostgres.WithPassword("legalchat"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, migrations.Up(dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func sampleIntake(matter, name string) *models.IntakeRecord {
	return &models.IntakeRecord{
		ShareWithMarketplace: true,
		Form: models.IntakeForm{
			FullName:   name,
			Email:      "client@example.com",
			MatterType: matter,
			Summary:    "Terminated two days after reporting a safety violation.",
		},
	}
}

func TestIntakeRepository_CRUD(t *testing.T) {
	repo := NewIntakeRepository(newTestPool(t))
	ctx := context.Background()

	first := sampleIntake("Employment", "Ana")
	require.NoError(t, repo.Create(ctx, first))
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.False(t, first.SubmittedAt.IsZero())

	second := sampleIntake("family law", "Ben")
	second.ApplyAnalysis(&models.Analysis{
		Summary: "Strong retaliation claim",
		Score:   70,
		ScoreBreakdown: models.ScoreBreakdown{
			LegalMerit: 25, EvidenceQuality: 15, DamagesPotential: 15,
			ProceduralViability: 10, LikelihoodOfSuccess: 5, Explanation: "ok",
		},
		Warnings:       []string{"statute of limitations"},
		ApplicableLaws: []models.ApplicableLaw{{Statute: "29 U.S.C. § 660(c)"}},
	})
	require.NoError(t, repo.Create(ctx, second))

	got, err := repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AIScore)
	assert.Equal(t, 70, *got.AIScore)
	require.NotNil(t, got.AIScoreBreakdown)
	assert.Equal(t, 70, got.AIScoreBreakdown.Total())
	assert.Equal(t, models.StringList{"statute of limitations"}, got.AIWarnings)
	assert.NotNil(t, got.RecommendedFirms)
	assert.Empty(t, got.RecommendedFirms)

	plain, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, plain.AIScore)
	assert.Nil(t, plain.AIScoreBreakdown)

	all, err := repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	employment := "employment"
	filtered, err := repo.List(ctx, &employment)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, first.ID, filtered[0].ID)

	require.NoError(t, repo.Delete(ctx, first.ID))
	assert.ErrorIs(t, repo.Delete(ctx, first.ID), ErrNotFound)
	_, err = repo.GetByID(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err = repo.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAttachmentRepository(t *testing.T) {
	repo := NewAttachmentRepository(newTestPool(t))
	ctx := context.Background()

	att := &models.Attachment{
		ID:          uuid.New(),
		Filename:    "lease.pdf",
		ContentType: "application/pdf",
		Size:        1024,
		StorageKey:  "attachments/ab/lease.pdf",
	}
	require.NoError(t, repo.Create(ctx, att))
	assert.False(t, att.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, att.ID)
	require.NoError(t, err)
	assert.Equal(t, att.StorageKey, got.StorageKey)
	assert.Equal(t, int64(1024), got.Size)

	require.NoError(t, repo.Delete(ctx, att.ID))
	_, err = repo.GetByID(ctx, att.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, att.ID), ErrNotFound)
}
