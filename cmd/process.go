package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/evidenceflow/refscreen/config"
	"github.com/evidenceflow/refscreen/internal/llm"
	"github.com/evidenceflow/refscreen/internal/runner"
	"github.com/evidenceflow/refscreen/internal/screening"
	"github.com/evidenceflow/refscreen/internal/session"
	"github.com/evidenceflow/refscreen/internal/store"
)

func processCMD() *cobra.Command {
	var cfgPath string
	var projectID string
	var userID string
	var mode string
	var resume bool

	var process = &cobra.Command{
		Use:   "process",
		Short: "Run dual-reviewer screening for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project is required")
			}
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}

			provider, err := llm.NewOpenAIProvider(llm.Config{
				APIKey:      cfg.LLM.APIKey,
				BaseURL:     cfg.LLM.BaseURL,
				Model:       cfg.LLM.Model,
				Temperature: cfg.LLM.Temperature,
				MaxTokens:   cfg.LLM.MaxTokens,
				Timeout:     cfg.LLM.Timeout,
			})
			if err != nil {
				return err
			}

			logger := log.New(log.Writer(), "[PROCESS] ", log.LstdFlags)
			coord := screening.NewCoordinator(&screening.Invoker{Provider: provider}, st, logger)
			coord.ReviewerGap = cfg.Screening.ReviewerGap

			sessions := session.NewManager(store.SessionStore{S: st}, st, logger)
			sessions.Staleness = cfg.Screening.StalenessWindow

			run := runner.New(coord, sessions, st, logger, nil, nil)
			run.BatchSize = cfg.Screening.BatchSize
			run.BatchPacing = cfg.Screening.BatchPacing
			run.ParallelPacing = cfg.Screening.ParallelPacing

			// a SIGINT pauses at the next unit boundary so the run can resume
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				logger.Printf("interrupt received, stopping at unit boundary")
				run.Stop(projectID)
			}()

			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			p, ok, err := st.GetProject(ctx, projectID, userID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("project %s not found", projectID)
			}

			var stats screening.Stats
			if resume {
				stats, err = run.Resume(ctx, userID, projectID, p.Criteria)
			} else {
				if mode == "" {
					mode = p.Mode
				}
				var refs []screening.Reference
				refs, err = st.ListReferences(ctx, projectID, screening.StatusPending)
				if err != nil {
					return err
				}
				if len(refs) == 0 {
					logger.Printf("no pending references")
					return nil
				}
				stats, err = run.Run(ctx, runner.Job{
					UserID:    userID,
					ProjectID: projectID,
					Criteria:  p.Criteria,
					Refs:      refs,
					Mode:      run.ModeByName(mode),
				})
			}
			if err != nil {
				return err
			}
			logger.Printf("done: processed=%d agreements=%d conflicts=%d", stats.Processed, stats.Agreements, stats.Conflicts)
			return nil
		},
	}
	process.Flags().StringVar(&projectID, "project", "", "project id")
	process.Flags().StringVar(&userID, "user", "", "user id owning the project")
	process.Flags().StringVar(&mode, "mode", "", "processing mode (parallel or batch)")
	process.Flags().BoolVar(&resume, "resume", false, "resume an interrupted run")
	process.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return process
}
