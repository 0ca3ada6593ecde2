package screening

import (
	"context"
	"log"
	"sync"
	"time"
)

// ReferenceUpdater is the narrow persistence surface the coordinator needs.
type ReferenceUpdater interface {
	UpdateScreening(ctx context.Context, refID string, upd Update) error
}

// Coordinator runs both reviewer evaluations for a reference, compares
// them, and persists the outcome as one logical update.
type Coordinator struct {
	Invoker *Invoker
	Store   ReferenceUpdater

	// ReviewerGap spaces the two calls in sequential (batch) processing.
	ReviewerGap time.Duration

	// OnResult, when set, observes every persisted outcome.
	OnResult func(Result)

	Logger *log.Logger
}

// NewCoordinator wires a coordinator with a default 100ms reviewer gap.
func NewCoordinator(inv *Invoker, store ReferenceUpdater, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(log.Writer(), "[DUAL] ", log.LstdFlags)
	}
	return &Coordinator{Invoker: inv, Store: store, ReviewerGap: 100 * time.Millisecond, Logger: logger}
}

// Process screens one reference with both reviewer personas. concurrent
// selects whether the two calls overlap (parallel mode) or run back to back
// with the reviewer gap (batch mode).
//
// Reviewer failures do not abort the run: both verdicts are recorded as
// uncertain with the failure text, the pair is treated as agreeing, and the
// reference lands in maybe. Only persistence failures surface as errors.
func (co *Coordinator) Process(ctx context.Context, ref Reference, criteria Criteria, concurrent bool) (Result, error) {
	var v1, v2 Verdict
	var err1, err2 error

	if concurrent {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			v1, err1 = co.Invoker.Review(ctx, ref, criteria, PersonaReviewer1)
		}()
		go func() {
			defer wg.Done()
			v2, err2 = co.Invoker.Review(ctx, ref, criteria, PersonaReviewer2)
		}()
		wg.Wait()
	} else {
		v1, err1 = co.Invoker.Review(ctx, ref, criteria, PersonaReviewer1)
		if co.ReviewerGap > 0 {
			select {
			case <-time.After(co.ReviewerGap):
			case <-ctx.Done():
			}
		}
		v2, err2 = co.Invoker.Review(ctx, ref, criteria, PersonaReviewer2)
	}

	if err1 != nil || err2 != nil {
		failErr := err1
		if failErr == nil {
			failErr = err2
		}
		co.Logger.Printf("reviewer failure for %s: %v", ref.ID, failErr)
		return co.persistFailure(ctx, ref, failErr.Error())
	}

	agreement := v1.Recommendation == v2.Recommendation
	finalStatus := StatusConflict
	if agreement {
		finalStatus = StatusForRecommendation(v1.Recommendation)
	}

	upd := Update{
		ScreeningStatus: &finalStatus,
		AIReviewer1:     &v1,
		AIReviewer2:     &v2,
		DualAICompleted: boolPtr(true),
		DualAIAgreement: &agreement,
	}
	if agreement {
		now := time.Now()
		upd.ScreeningDate = &now
	}
	if err := co.Store.UpdateScreening(ctx, ref.ID, upd); err != nil {
		return Result{}, err
	}

	res := Result{
		ReferenceID: ref.ID,
		Reviewer1:   v1,
		Reviewer2:   v2,
		Agreement:   agreement,
		FinalStatus: finalStatus,
	}
	if co.OnResult != nil {
		co.OnResult(res)
	}
	return res, nil
}

// persistFailure records a failed dual evaluation. Both reviewers failed the
// same way, so the pair counts as agreeing and the reference goes to maybe
// rather than the conflict queue.
func (co *Coordinator) persistFailure(ctx context.Context, ref Reference, reason string) (Result, error) {
	v := Verdict{
		Recommendation: RecommendUncertain,
		Confidence:     0,
		Reasoning:      "Processing error: " + reason,
	}
	status := StatusMaybe
	now := time.Now()
	upd := Update{
		ScreeningStatus: &status,
		AIReviewer1:     &v,
		AIReviewer2:     &v,
		DualAICompleted: boolPtr(true),
		DualAIAgreement: boolPtr(true),
		ScreeningDate:   &now,
	}
	if err := co.Store.UpdateScreening(ctx, ref.ID, upd); err != nil {
		return Result{}, err
	}
	res := Result{
		ReferenceID: ref.ID,
		Reviewer1:   v,
		Reviewer2:   v,
		Agreement:   true,
		FinalStatus: status,
	}
	if co.OnResult != nil {
		co.OnResult(res)
	}
	return res, nil
}

func boolPtr(b bool) *bool { return &b }
