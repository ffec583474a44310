package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MatterType represents the practice area of an intake
type MatterType string

const (
	MatterEmployment     MatterType = "employment"
	MatterPersonalInjury MatterType = "personal injury"
	MatterMassTort       MatterType = "mass tort/class action"
	MatterFamilyLaw      MatterType = "family law"
	MatterImmigration    MatterType = "immigration law"
)

// MatterTypes lists the matter types the intake form offers
var MatterTypes = []MatterType{
	MatterEmployment,
	MatterPersonalInjury,
	MatterMassTort,
	MatterFamilyLaw,
	MatterImmigration,
}

// IntakeForm holds the fields a prospective client submits
type IntakeForm struct {
	FullName     string `json:"fullName" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Phone        string `json:"phone"`
	Jurisdiction string `json:"jurisdiction"`
	MatterType   string `json:"matterType" binding:"required"`
	Summary      string `json:"summary" binding:"required"`
	Goals        string `json:"goals"`
	Urgency      string `json:"urgency"`
}

// ScoreBreakdown is the per-criterion split of an intake score.
// The criteria follow the intake rubric (30/20/25/15/10).
type ScoreBreakdown struct {
	LegalMerit          int    `json:"legalMerit"`
	EvidenceQuality     int    `json:"evidenceQuality"`
	DamagesPotential    int    `json:"damagesPotential"`
	ProceduralViability int    `json:"proceduralViability"`
	LikelihoodOfSuccess int    `json:"likelihoodOfSuccess"`
	Explanation         string `json:"explanation"`
}

// Total sums the numeric sub-scores
func (b ScoreBreakdown) Total() int {
	return b.LegalMerit + b.EvidenceQuality + b.DamagesPotential + b.ProceduralViability + b.LikelihoodOfSuccess
}

// Value implements driver.Valuer for JSONB
func (b ScoreBreakdown) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements sql.Scanner for JSONB
func (b *ScoreBreakdown) Scan(value interface{}) error {
	data, ok := jsonbBytes(value)
	if !ok {
		*b = ScoreBreakdown{}
		return nil
	}
	return json.Unmarshal(data, b)
}

// RecommendedFirm is a law firm suggested by the intake analysis
type RecommendedFirm struct {
	Name          string   `json:"name"`
	Location      string   `json:"location"`
	PracticeAreas []string `json:"practiceAreas"`
	Website       string   `json:"website"`
	Reasoning     string   `json:"reasoning"`
	Source        string   `json:"source"`
}

// ApplicableLaw is a statute the analysis considers relevant
type ApplicableLaw struct {
	Statute   string `json:"statute"`
	Summary   string `json:"summary"`
	Relevance string `json:"relevance"`
}

// StringList is a JSONB array of strings
type StringList []string

// Value implements driver.Valuer for JSONB
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(l))
}

// Scan implements sql.Scanner for JSONB
func (l *StringList) Scan(value interface{}) error {
	data, ok := jsonbBytes(value)
	if !ok {
		*l = make(StringList, 0)
		return nil
	}
	return json.Unmarshal(data, l)
}

// FirmList is a JSONB array of recommended firms
type FirmList []RecommendedFirm

// Value implements driver.Valuer for JSONB
func (l FirmList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]RecommendedFirm(l))
}

// Scan implements sql.Scanner for JSONB
func (l *FirmList) Scan(value interface{}) error {
	data, ok := jsonbBytes(value)
	if !ok {
		*l = make(FirmList, 0)
		return nil
	}
	return json.Unmarshal(data, l)
}

// LawList is a JSONB array of applicable laws
type LawList []ApplicableLaw

// Value implements driver.Valuer for JSONB
func (l LawList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]ApplicableLaw(l))
}

// Scan implements sql.Scanner for JSONB
func (l *LawList) Scan(value interface{}) error {
	data, ok := jsonbBytes(value)
	if !ok {
		*l = make(LawList, 0)
		return nil
	}
	return json.Unmarshal(data, l)
}

// jsonbBytes normalizes what pgx hands to a Scanner for a JSONB column.
// ok is false for NULL, empty or unsupported values.
func jsonbBytes(value interface{}) ([]byte, bool) {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil, false
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, false
	}
	return data, true
}

// Analysis is the AI assessment of an intake, in the shape the
// intake-analyst agent is asked to return.
type Analysis struct {
	Summary          string            `json:"summary"`
	Score            int               `json:"score"`
	ScoreBreakdown   ScoreBreakdown    `json:"scoreBreakdown"`
	Reasoning        string            `json:"reasoning"`
	Warnings         []string          `json:"warnings"`
	RecommendedFirms []RecommendedFirm `json:"recommendedFirms"`
	ApplicableLaws   []ApplicableLaw   `json:"applicableLaws"`
	Error            string            `json:"error,omitempty"`
}

// IntakeRecord represents a stored intake submission
type IntakeRecord struct {
	ID                   uuid.UUID  `json:"id"`
	SubmittedAt          time.Time  `json:"submittedAt"`
	ShareWithMarketplace bool       `json:"shareWithMarketplace"`
	Form                 IntakeForm `json:"form"`

	// AI assessment, filled once at creation
	AISummary        *string         `json:"aiSummary,omitempty"`
	AIScore          *int            `json:"aiScore,omitempty"`
	AIScoreBreakdown *ScoreBreakdown `json:"aiScoreBreakdown,omitempty"`
	AIReasoning      *string         `json:"aiReasoning,omitempty"`
	AIWarnings       StringList      `json:"aiWarnings"`
	RecommendedFirms FirmList        `json:"recommendedFirms"`
	ApplicableLaws   LawList         `json:"applicableLaws"`
}

// ApplyAnalysis copies an analysis block onto the record
func (r *IntakeRecord) ApplyAnalysis(a *Analysis) {
	if a == nil {
		return
	}
	summary := a.Summary
	score := a.Score
	breakdown := a.ScoreBreakdown
	reasoning := a.Reasoning

	r.AISummary = &summary
	r.AIScore = &score
	r.AIScoreBreakdown = &breakdown
	r.AIReasoning = &reasoning
	r.AIWarnings = append(make(StringList, 0, len(a.Warnings)), a.Warnings...)
	r.RecommendedFirms = append(make(FirmList, 0, len(a.RecommendedFirms)), a.RecommendedFirms...)
	r.ApplicableLaws = append(make(LawList, 0, len(a.ApplicableLaws)), a.ApplicableLaws...)
}

// EnsureLists replaces nil list fields with empty ones so they serialize as []
func (r *IntakeRecord) EnsureLists() {
	if r.AIWarnings == nil {
		r.AIWarnings = make(StringList, 0)
	}
	if r.RecommendedFirms == nil {
		r.RecommendedFirms = make(FirmList, 0)
	}
	if r.ApplicableLaws == nil {
		r.ApplicableLaws = make(LawList, 0)
	}
}
