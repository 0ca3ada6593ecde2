package screening

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// personaProvider returns a scripted verdict per reviewer persona.
type personaProvider struct {
	mu        sync.Mutex
	reviewer1 string
	reviewer2 string
	fail1     bool
	fail2     bool
}

func (p *personaProvider) Evaluate(_ context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if strings.Contains(prompt, PersonaReviewer1) {
		if p.fail1 {
			return "", errors.New("model unavailable")
		}
		return p.reviewer1, nil
	}
	if p.fail2 {
		return "", errors.New("model unavailable")
	}
	return p.reviewer2, nil
}

type captureStore struct {
	mu      sync.Mutex
	updates map[string]Update
	err     error
}

func newCaptureStore() *captureStore {
	return &captureStore{updates: make(map[string]Update)}
}

func (s *captureStore) UpdateScreening(_ context.Context, refID string, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.updates[refID] = upd
	return nil
}

func verdictJSON(rec string) string {
	return `{"recommendation":"` + rec + `","confidence":0.8,"reasoning":"because"}`
}

func TestProcessAgreementMapping(t *testing.T) {
	cases := []struct {
		name       string
		rec1, rec2 string
		wantStatus string
		wantAgree  bool
	}{
		{"both include", "include", "include", StatusInclude, true},
		{"both exclude", "exclude", "exclude", StatusExclude, true},
		{"both uncertain", "uncertain", "uncertain", StatusMaybe, true},
		{"disagree", "include", "exclude", StatusConflict, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &personaProvider{reviewer1: verdictJSON(tc.rec1), reviewer2: verdictJSON(tc.rec2)}
			store := newCaptureStore()
			co := NewCoordinator(&Invoker{Provider: provider}, store, nil)
			co.ReviewerGap = 0

			res, err := co.Process(context.Background(), Reference{ID: "r1", Title: "t"}, Criteria{}, true)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if res.Agreement != tc.wantAgree {
				t.Fatalf("agreement = %v, want %v", res.Agreement, tc.wantAgree)
			}
			if res.FinalStatus != tc.wantStatus {
				t.Fatalf("final status = %q, want %q", res.FinalStatus, tc.wantStatus)
			}

			upd, ok := store.updates["r1"]
			if !ok {
				t.Fatalf("no update persisted")
			}
			if upd.ScreeningStatus == nil || *upd.ScreeningStatus != tc.wantStatus {
				t.Fatalf("persisted status mismatch")
			}
			if upd.DualAICompleted == nil || !*upd.DualAICompleted {
				t.Fatalf("dual_ai_completed not persisted")
			}
			if upd.DualAIAgreement == nil || *upd.DualAIAgreement != tc.wantAgree {
				t.Fatalf("dual_ai_agreement mismatch")
			}
			if tc.wantAgree && upd.ScreeningDate == nil {
				t.Fatalf("agreement should set screening_date")
			}
			if !tc.wantAgree && upd.ScreeningDate != nil {
				t.Fatalf("conflict must leave screening_date unset")
			}
		})
	}
}

func TestProcessFailureAbsorbsReviewerError(t *testing.T) {
	provider := &personaProvider{reviewer1: verdictJSON("include"), fail2: true}
	store := newCaptureStore()
	co := NewCoordinator(&Invoker{Provider: provider}, store, nil)
	co.ReviewerGap = 0

	res, err := co.Process(context.Background(), Reference{ID: "r1", Title: "t"}, Criteria{}, false)
	if err != nil {
		t.Fatalf("Process should absorb reviewer failures, got %v", err)
	}
	if !res.Agreement {
		t.Fatalf("failed pair must count as agreeing")
	}
	if res.FinalStatus != StatusMaybe {
		t.Fatalf("final status = %q, want maybe", res.FinalStatus)
	}
	if res.Reviewer1.Recommendation != RecommendUncertain || res.Reviewer2.Recommendation != RecommendUncertain {
		t.Fatalf("both verdicts should be uncertain: %+v %+v", res.Reviewer1, res.Reviewer2)
	}

	upd := store.updates["r1"]
	if upd.DualAIAgreement == nil || !*upd.DualAIAgreement {
		t.Fatalf("failure path must persist dual_ai_agreement=true")
	}
	if upd.ScreeningStatus == nil || *upd.ScreeningStatus != StatusMaybe {
		t.Fatalf("failure path must persist maybe status")
	}
	if !strings.Contains(upd.AIReviewer1.Reasoning, "model unavailable") {
		t.Fatalf("failure reasoning should carry the error text: %q", upd.AIReviewer1.Reasoning)
	}
}

func TestProcessSurfacesStoreError(t *testing.T) {
	provider := &personaProvider{reviewer1: verdictJSON("include"), reviewer2: verdictJSON("include")}
	store := newCaptureStore()
	store.err = errors.New("db down")
	co := NewCoordinator(&Invoker{Provider: provider}, store, nil)

	if _, err := co.Process(context.Background(), Reference{ID: "r1", Title: "t"}, Criteria{}, true); err == nil {
		t.Fatalf("expected store error to surface")
	}
}
