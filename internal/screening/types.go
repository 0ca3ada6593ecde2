package screening

import "time"

// Screening statuses a reference moves through.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusInclude    = "include"
	StatusExclude    = "exclude"
	StatusMaybe      = "maybe"
	StatusConflict   = "conflict"
)

// Reviewer recommendations.
const (
	RecommendInclude   = "include"
	RecommendExclude   = "exclude"
	RecommendUncertain = "uncertain"
)

// Reviewer persona contexts. Each reviewer call carries one of these so the
// two evaluations emphasise different aspects of the criteria.
const (
	PersonaReviewer1 = "AI Reviewer 1 - Focus on strict inclusion criteria adherence"
	PersonaReviewer2 = "AI Reviewer 2 - Focus on comprehensive evidence evaluation"
)

// Reference is a literature record under screening.
type Reference struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	UserID           string     `json:"user_id"`
	Title            string     `json:"title"`
	Authors          string     `json:"authors,omitempty"`
	Abstract         string     `json:"abstract,omitempty"`
	Year             int        `json:"year,omitempty"`
	DOI              string     `json:"doi,omitempty"`
	ScreeningStatus  string     `json:"screening_status"`
	AIReviewer1      *Verdict   `json:"ai_reviewer_1,omitempty"`
	AIReviewer2      *Verdict   `json:"ai_reviewer_2,omitempty"`
	DualAICompleted  bool       `json:"dual_ai_completed"`
	DualAIAgreement  *bool      `json:"dual_ai_agreement,omitempty"`
	ManualDecision   string     `json:"manual_decision,omitempty"`
	ReviewerNotes    string     `json:"reviewer_notes,omitempty"`
	ConflictResolved bool       `json:"conflict_resolved"`
	ScreeningDate    *time.Time `json:"screening_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Criteria is the PICO framework the reviewers screen against.
type Criteria struct {
	Population         string   `json:"population,omitempty"`
	Intervention       string   `json:"intervention,omitempty"`
	Comparator         string   `json:"comparator,omitempty"`
	Outcome            string   `json:"outcome,omitempty"`
	AdditionalCriteria string   `json:"additional_criteria,omitempty"`
	InclusionKeywords  []string `json:"inclusion_keywords,omitempty"`
	ExclusionKeywords  []string `json:"exclusion_keywords,omitempty"`
}

// Empty reports whether no criteria fields are set.
func (c Criteria) Empty() bool {
	return c.Population == "" && c.Intervention == "" && c.Comparator == "" &&
		c.Outcome == "" && c.AdditionalCriteria == "" &&
		len(c.InclusionKeywords) == 0 && len(c.ExclusionKeywords) == 0
}

// Verdict is a single reviewer evaluation of a reference.
type Verdict struct {
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`

	PopulationMatch        string   `json:"population_match,omitempty"`
	InterventionRelevant   string   `json:"intervention_relevant,omitempty"`
	ComparatorAppropriate  string   `json:"comparator_appropriate,omitempty"`
	OutcomesRelevant       string   `json:"outcomes_relevant,omitempty"`
	StudyDesignAppropriate string   `json:"study_design_appropriate,omitempty"`
	KeyEvidence            []string `json:"key_evidence,omitempty"`
	PotentialConcerns      []string `json:"potential_concerns,omitempty"`
}

// Result is the outcome of one dual-reviewer pass over a reference.
type Result struct {
	ReferenceID string  `json:"reference_id"`
	Reviewer1   Verdict `json:"reviewer_1"`
	Reviewer2   Verdict `json:"reviewer_2"`
	Agreement   bool    `json:"agreement"`
	FinalStatus string  `json:"final_status"`
}

// Stats summarises a screening run or a project.
type Stats struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Agreements int `json:"agreements"`
	Conflicts  int `json:"conflicts"`
	Resolved   int `json:"resolved"`
}

// Update is a partial screening-field update applied to a reference.
// Nil pointers leave the stored value untouched.
type Update struct {
	ScreeningStatus  *string
	AIReviewer1      *Verdict
	AIReviewer2      *Verdict
	DualAICompleted  *bool
	DualAIAgreement  *bool
	ManualDecision   *string
	ReviewerNotes    *string
	ConflictResolved *bool
	ScreeningDate    *time.Time
}

// StatusForRecommendation maps an agreed recommendation onto a screening
// status. Uncertain agreements land in maybe for human review.
func StatusForRecommendation(rec string) string {
	switch rec {
	case RecommendInclude:
		return StatusInclude
	case RecommendExclude:
		return StatusExclude
	default:
		return StatusMaybe
	}
}

// ValidRecommendation reports whether rec is one of the three allowed values.
func ValidRecommendation(rec string) bool {
	switch rec {
	case RecommendInclude, RecommendExclude, RecommendUncertain:
		return true
	}
	return false
}
