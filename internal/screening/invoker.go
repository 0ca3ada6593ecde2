package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/evidenceflow/refscreen/internal/llm"
)

// ErrBadVerdict marks a model response that could not be parsed into a
// usable verdict.
var ErrBadVerdict = errors.New("unusable reviewer verdict")

const insufficientContentReason = "No abstract or title available for screening"

// Invoker runs a single reviewer evaluation against the model provider.
type Invoker struct {
	Provider llm.Provider
}

// Review evaluates one reference under the given criteria and persona.
// References with neither title nor abstract are answered locally without a
// provider call. Provider and parse failures are returned as errors; Review
// never invents a verdict for them.
func (iv *Invoker) Review(ctx context.Context, ref Reference, criteria Criteria, persona string) (Verdict, error) {
	if strings.TrimSpace(ref.Title) == "" && strings.TrimSpace(ref.Abstract) == "" {
		return Verdict{
			Recommendation: RecommendUncertain,
			Confidence:     0,
			Reasoning:      insufficientContentReason,
		}, nil
	}

	prompt := BuildPrompt(ref, criteria, persona)
	raw, err := iv.Provider.Evaluate(ctx, prompt)
	if err != nil {
		return Verdict{}, fmt.Errorf("reviewer call: %w", err)
	}
	return parseVerdict(raw)
}

func parseVerdict(raw string) (Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(llm.ExtractFirstJSON(raw)), &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrBadVerdict, err)
	}
	v.Recommendation = strings.ToLower(strings.TrimSpace(v.Recommendation))
	if !ValidRecommendation(v.Recommendation) {
		return Verdict{}, fmt.Errorf("%w: recommendation %q", ErrBadVerdict, v.Recommendation)
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v, nil
}

// BuildPrompt assembles the screening prompt: persona line, criteria block,
// reference block, then the strict-JSON response instruction. Empty criteria
// fields are omitted.
func BuildPrompt(ref Reference, criteria Criteria, persona string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nYou are screening a literature reference for a systematic review.\n")

	b.WriteString("\nSCREENING CRITERIA:\n")
	writeCriterion(&b, "Population", criteria.Population)
	writeCriterion(&b, "Intervention", criteria.Intervention)
	writeCriterion(&b, "Comparator", criteria.Comparator)
	writeCriterion(&b, "Outcome", criteria.Outcome)
	writeCriterion(&b, "Additional criteria", criteria.AdditionalCriteria)
	if len(criteria.InclusionKeywords) > 0 {
		fmt.Fprintf(&b, "Inclusion keywords: %s\n", strings.Join(criteria.InclusionKeywords, ", "))
	}
	if len(criteria.ExclusionKeywords) > 0 {
		fmt.Fprintf(&b, "Exclusion keywords: %s\n", strings.Join(criteria.ExclusionKeywords, ", "))
	}

	b.WriteString("\nREFERENCE:\n")
	fmt.Fprintf(&b, "Title: %s\n", ref.Title)
	if ref.Authors != "" {
		fmt.Fprintf(&b, "Authors: %s\n", ref.Authors)
	}
	if ref.Year != 0 {
		fmt.Fprintf(&b, "Year: %d\n", ref.Year)
	}
	if ref.Abstract != "" {
		fmt.Fprintf(&b, "Abstract: %s\n", ref.Abstract)
	} else {
		b.WriteString("Abstract: (not available, judge from the title)\n")
	}

	b.WriteString(`
Respond with ONLY strict JSON, no prose, in this shape:
{
  "recommendation": "include|exclude|uncertain",
  "confidence": 0.0,
  "reasoning": "one or two sentences",
  "population_match": "yes|no|unclear",
  "intervention_relevant": "yes|no|unclear",
  "comparator_appropriate": "yes|no|unclear",
  "outcomes_relevant": "yes|no|unclear",
  "study_design_appropriate": "yes|no|unclear",
  "key_evidence": [],
  "potential_concerns": []
}`)
	return b.String()
}

func writeCriterion(b *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}
