package search

import (
	"testing"

	"github.com/evidenceflow/refscreen/internal/screening"
)

func TestSearchScopedToProject(t *testing.T) {
	ix, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	err = ix.AddAll([]screening.Reference{
		{ID: "r1", ProjectID: "p1", Title: "Statins and cardiovascular outcomes", Abstract: "A randomized trial."},
		{ID: "r2", ProjectID: "p1", Title: "Dietary interventions in diabetes"},
		{ID: "r3", ProjectID: "p2", Title: "Statins in elderly patients"},
	})
	if err != nil {
		t.Fatalf("AddAll: %v", err)
	}

	ids, err := ix.Search("p1", "statins", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || ids[0] != "r1" {
		t.Fatalf("expected only p1's statins hit, got %v", ids)
	}

	ids, err = ix.Search("p2", "statins", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || ids[0] != "r3" {
		t.Fatalf("expected only p2's statins hit, got %v", ids)
	}

	ids, err = ix.Search("p1", "nonexistent-term", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no hits, got %v", ids)
	}
}

func TestSearchScopesByUUIDProjectID(t *testing.T) {
	ix, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	const p1 = "550e8400-e29b-41d4-a716-446655440000"
	const p2 = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	err = ix.AddAll([]screening.Reference{
		{ID: "r1", ProjectID: p1, Title: "Statins and cardiovascular outcomes"},
		{ID: "r2", ProjectID: p2, Title: "Statins in elderly patients"},
	})
	if err != nil {
		t.Fatalf("AddAll: %v", err)
	}

	ids, err := ix.Search(p1, "statins", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || ids[0] != "r1" {
		t.Fatalf("uuid-scoped search should hit only r1, got %v", ids)
	}

	ids, err = ix.Search(p2, "statins", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || ids[0] != "r2" {
		t.Fatalf("uuid-scoped search should hit only r2, got %v", ids)
	}
}

func TestSearchMatchesAbstract(t *testing.T) {
	ix, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := ix.Add(screening.Reference{ID: "r1", ProjectID: "p1", Title: "Short title", Abstract: "beta blockers reduce mortality"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ids, err := ix.Search("p1", "mortality", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || ids[0] != "r1" {
		t.Fatalf("abstract should be searchable, got %v", ids)
	}
}
