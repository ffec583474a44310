package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"legalchat-backend/models"
	"legalchat-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IntakeAPI is the intake service as used by the HTTP layer
type IntakeAPI interface {
	Analyze(ctx context.Context, req service.AnalyzeRequest) (*models.Analysis, error)
	CreateIntake(ctx context.Context, req service.CreateIntakeRequest) (*models.IntakeRecord, error)
	ListIntakes(ctx context.Context, matterType *string) ([]models.IntakeRecord, error)
	DeleteIntake(ctx context.Context, id uuid.UUID) error
}

// IntakeHandler handles HTTP requests for intakes
type IntakeHandler struct {
	intakes IntakeAPI
	logger  *slog.Logger
}

// NewIntakeHandler creates a new intake handler
func NewIntakeHandler(intakes IntakeAPI, logger *slog.Logger) *IntakeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeHandler{intakes: intakes, logger: logger}
}

// AnalyzeIntake handles POST /api/intakes/analyze
func (h *IntakeHandler) AnalyzeIntake(c *gin.Context) {
	var req service.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	analysis, err := h.intakes.Analyze(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Intake analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze intake"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"analysis": analysis,
	})
}

// ListIntakes handles GET /api/intakes, optionally filtered by ?matterType=
func (h *IntakeHandler) ListIntakes(c *gin.Context) {
	var matterType *string
	if mt, ok := c.GetQuery("matterType"); ok && mt != "" {
		matterType = &mt
	}

	intakes, err := h.intakes.ListIntakes(c.Request.Context(), matterType)
	if err != nil {
		h.logger.Error("Failed to fetch intakes", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch intakes"})
		return
	}

	c.JSON(http.StatusOK, intakes)
}

// CreateIntake handles POST /api/intakes
func (h *IntakeHandler) CreateIntake(c *gin.Context) {
	var req service.CreateIntakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, err)
		return
	}

	intake, err := h.intakes.CreateIntake(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to create intake", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create intake"})
		return
	}

	c.JSON(http.StatusCreated, intake)
}

// DeleteIntake handles DELETE /api/intakes/:id
func (h *IntakeHandler) DeleteIntake(c *gin.Context) {
	// A malformed id cannot name a stored intake
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Intake not found"})
		return
	}

	err = h.intakes.DeleteIntake(c.Request.Context(), id)
	switch {
	case errors.Is(err, service.ErrIntakeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Intake not found"})
	case err != nil:
		h.logger.Error("Failed to delete intake", "intake_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete intake"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func invalidRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "INVALID_REQUEST",
			"message": err.Error(),
		},
	})
}
