package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"legalchat-backend/agents"
	"legalchat-backend/models"
	"legalchat-backend/repository"

	"github.com/google/uuid"
)

// ErrIntakeNotFound is returned when an intake id does not exist
var ErrIntakeNotFound = errors.New("intake not found")

// IntakeStore persists intake records
type IntakeStore interface {
	Create(ctx context.Context, intake *models.IntakeRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.IntakeRecord, error)
	List(ctx context.Context, matterType *string) ([]models.IntakeRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Analyzer produces an intake analysis. It never fails.
type Analyzer interface {
	Analyze(ctx context.Context, in agents.IntakeAnalysisInput) *models.Analysis
}

// IntakeService handles business logic for intakes
type IntakeService struct {
	repo     IntakeStore
	analyzer Analyzer
	logger   *slog.Logger
}

// IntakeServiceOption is a functional option for IntakeService
type IntakeServiceOption func(*IntakeService)

// WithIntakeRepository sets the intake store
func WithIntakeRepository(repo IntakeStore) IntakeServiceOption {
	return func(s *IntakeService) {
		s.repo = repo
	}
}

// WithIntakeAnalyzer enables analysis on creation
func WithIntakeAnalyzer(a Analyzer) IntakeServiceOption {
	return func(s *IntakeService) {
		s.analyzer = a
	}
}

// WithIntakeLogger sets the logger
func WithIntakeLogger(l *slog.Logger) IntakeServiceOption {
	return func(s *IntakeService) {
		s.logger = l
	}
}

// NewIntakeService creates a new intake service
func NewIntakeService(opts ...IntakeServiceOption) *IntakeService {
	s := &IntakeService{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AnalyzeRequest is the body of an analysis request
type AnalyzeRequest struct {
	Name         string `json:"name" binding:"required"`
	Email        string `json:"email" binding:"required"`
	Phone        string `json:"phone"`
	MatterType   string `json:"matterType" binding:"required"`
	Description  string `json:"description" binding:"required"`
	Location     string `json:"location"`
	IncidentDate string `json:"incidentDate"`
}

// Analyze runs the intake analyst on a standalone request
func (s *IntakeService) Analyze(ctx context.Context, req AnalyzeRequest) (*models.Analysis, error) {
	if s.analyzer == nil {
		return nil, errors.New("intake analyzer not set")
	}
	return s.analyzer.Analyze(ctx, agents.IntakeAnalysisInput{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		MatterType:   req.MatterType,
		Description:  req.Description,
		Location:     req.Location,
		IncidentDate: req.IncidentDate,
	}), nil
}

// CreateIntakeRequest is the body of an intake submission
type CreateIntakeRequest struct {
	ShareWithMarketplace bool              `json:"shareWithMarketplace"`
	Form                 models.IntakeForm `json:"form" binding:"required"`
}

// CreateIntake analyzes the form when an analyzer is configured, then stores it
func (s *IntakeService) CreateIntake(ctx context.Context, req CreateIntakeRequest) (*models.IntakeRecord, error) {
	if s.repo == nil {
		return nil, errors.New("intake repository not set")
	}

	intake := &models.IntakeRecord{
		ShareWithMarketplace: req.ShareWithMarketplace,
		Form:                 req.Form,
	}
	if s.analyzer != nil {
		intake.ApplyAnalysis(s.analyzer.Analyze(ctx, FormAnalysisInput(req.Form)))
	}
	intake.EnsureLists()

	if err := s.repo.Create(ctx, intake); err != nil {
		return nil, fmt.Errorf("failed to create intake: %w", err)
	}
	s.logger.Info("Intake created", "intake_id", intake.ID, "matter_type", intake.Form.MatterType)
	return intake, nil
}

// ListIntakes returns intakes newest first, optionally filtered by matter type
func (s *IntakeService) ListIntakes(ctx context.Context, matterType *string) ([]models.IntakeRecord, error) {
	if s.repo == nil {
		return nil, errors.New("intake repository not set")
	}
	intakes, err := s.repo.List(ctx, matterType)
	if err != nil {
		return nil, fmt.Errorf("failed to list intakes: %w", err)
	}
	return intakes, nil
}

// DeleteIntake removes an intake, returning ErrIntakeNotFound when it does
// not exist
func (s *IntakeService) DeleteIntake(ctx context.Context, id uuid.UUID) error {
	if s.repo == nil {
		return errors.New("intake repository not set")
	}

	if _, err := s.repo.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrIntakeNotFound
		}
		return fmt.Errorf("failed to load intake: %w", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrIntakeNotFound
		}
		return fmt.Errorf("failed to delete intake: %w", err)
	}
	s.logger.Info("Intake deleted", "intake_id", id)
	return nil
}

// FormAnalysisInput maps a submitted form onto the analysis prompt fields
func FormAnalysisInput(f models.IntakeForm) agents.IntakeAnalysisInput {
	desc := []string{strings.TrimSpace(f.Summary)}
	if g := strings.TrimSpace(f.Goals); g != "" {
		desc = append(desc, "Goals: "+g)
	}
	if u := strings.TrimSpace(f.Urgency); u != "" {
		desc = append(desc, "Urgency: "+u)
	}
	return agents.IntakeAnalysisInput{
		Name:        f.FullName,
		Email:       f.Email,
		Phone:       f.Phone,
		MatterType:  f.MatterType,
		Description: strings.Join(desc, "\n\n"),
		Location:    f.Jurisdiction,
	}
}
