package search

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"

	"github.com/evidenceflow/refscreen/internal/screening"
)

// doc is the indexed shape of a reference.
type doc struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Abstract  string `json:"abstract"`
}

// Index is an in-memory full-text index over reference titles, authors and
// abstracts. It is rebuilt from the store at startup and kept current as
// references are created.
type Index struct {
	mu  sync.RWMutex
	idx bleve.Index
}

func NewIndex() (*Index, error) {
	im := bleve.NewIndexMapping()
	// project ids are UUIDs; the standard analyzer would split them on
	// hyphens and the scoping term query would never match
	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	refDoc := bleve.NewDocumentMapping()
	refDoc.AddFieldMappingsAt("project_id", idField)
	im.DefaultMapping = refDoc

	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// Add indexes one reference.
func (ix *Index) Add(ref screening.Reference) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.idx.Index(ref.ID, doc{
		ProjectID: ref.ProjectID,
		Title:     ref.Title,
		Authors:   ref.Authors,
		Abstract:  ref.Abstract,
	})
}

// AddAll indexes a batch, typically the startup rebuild.
func (ix *Index) AddAll(refs []screening.Reference) error {
	for _, r := range refs {
		if err := ix.Add(r); err != nil {
			return err
		}
	}
	return nil
}

// Search runs a match query scoped to one project and returns reference ids
// by descending score.
func (ix *Index) Search(projectID, q string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	match := bleve.NewMatchQuery(q)
	scope := bleve.NewTermQuery(projectID)
	scope.SetField("project_id")
	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(match, scope))
	req.Size = limit

	ix.mu.RLock()
	res, err := ix.idx.Search(req)
	ix.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}
