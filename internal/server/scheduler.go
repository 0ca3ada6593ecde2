package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/evidenceflow/refscreen/internal/runner"
	"github.com/evidenceflow/refscreen/internal/screening"
	"github.com/evidenceflow/refscreen/internal/store"
)

// Scheduler kicks off screening runs for projects whose cron schedule is
// due and which still have pending references. A redis SetNX lock keeps
// replicas from double-firing.
type Scheduler struct {
	Store  *store.Store
	Runner *runner.Runner
	Rdb    *redis.Client
	Stop   chan struct{}
	Logger *log.Logger
}

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	projects, err := s.Store.ListAllProjects(ctx)
	if err != nil {
		s.Logger.Printf("list projects: %v", err)
		return
	}
	for _, p := range projects {
		if p.ScheduleCron == "" {
			continue
		}
		sess, ok, err := sessionLastRun(ctx, s.Store, p.ID)
		if err != nil {
			continue
		}
		var last *time.Time
		if ok {
			last = &sess
		}
		if !isDue(p.ScheduleCron, last) {
			continue
		}
		if s.Runner.Active(p.ID) {
			continue
		}

		refs, err := s.Store.ListReferences(ctx, p.ID, screening.StatusPending)
		if err != nil || len(refs) == 0 {
			continue
		}

		if s.Rdb != nil {
			lockKey := "refscreen:sched:" + p.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}

		s.Logger.Printf("auto-run due for project %s (%d pending)", p.ID, len(refs))
		go func(p store.Project, refs []screening.Reference) {
			// jitter to avoid stampedes
			time.Sleep(time.Duration(250+int64(time.Now().UnixNano()%250)) * time.Millisecond)
			runCtx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			defer cancel()
			_, err := s.Runner.Run(runCtx, runner.Job{
				UserID:    p.UserID,
				ProjectID: p.ID,
				Criteria:  p.Criteria,
				Refs:      refs,
				Mode:      s.Runner.ModeByName(p.Mode),
			})
			if err != nil {
				s.Logger.Printf("auto-run failed for project %s: %v", p.ID, err)
			}
		}(p, refs)
	}
}

// sessionLastRun reports the timestamp of the project's most recent
// session activity, used as the cron baseline.
func sessionLastRun(ctx context.Context, st *store.Store, projectID string) (time.Time, bool, error) {
	rec, ok, err := (store.SessionStore{S: st}).Get(ctx, projectID)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return rec.Timestamp, true, nil
}

// isDue determines if a project with cronSpec should run now based on the
// last activity time. Supports "@daily", "@hourly", and standard 5-field
// cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
