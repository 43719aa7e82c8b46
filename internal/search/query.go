package search

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/listenupapp/audiocache/internal/domain"
)

// Hit is one ranked match.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Result is a page of ranked matches.
type Result struct {
	Total uint64 `json:"total"`
	Hits  []Hit  `json:"hits"`
}

// IDs returns the hit ids in rank order.
func (r *Result) IDs() []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.ID
	}
	return ids
}

// Search runs filter against the index. Text queries rank by relevance;
// filter-only searches list newest first.
func (s *SearchIndex) Search(ctx context.Context, filter domain.SearchFilter) (*Result, error) {
	filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(buildSearchQuery(filter), filter.Limit, filter.Offset, false)
	if strings.TrimSpace(filter.Query) == "" {
		req.SortBy([]string{"-created_at", "_id"})
	} else {
		req.SortBy([]string{"-_score", "-created_at"})
	}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	out := &Result{Total: res.Total, Hits: make([]Hit, 0, len(res.Hits))}
	for _, hit := range res.Hits {
		out.Hits = append(out.Hits, Hit{ID: hit.ID, Score: hit.Score})
	}
	return out, nil
}

// buildSearchQuery matches the text against title (boosted) and artist with
// fuzzy and prefix fallbacks, then ANDs the structured filters.
func buildSearchQuery(filter domain.SearchFilter) query.Query {
	var queries []query.Query

	if q := strings.TrimSpace(filter.Query); q != "" {
		titleMatch := bleve.NewMatchQuery(q)
		titleMatch.SetField("title")
		titleMatch.SetBoost(3.0)

		artistMatch := bleve.NewMatchQuery(q)
		artistMatch.SetField("artist")
		artistMatch.SetBoost(1.5)

		fuzzy := bleve.NewFuzzyQuery(strings.ToLower(q))
		fuzzy.SetFuzziness(1)
		fuzzy.SetField("title")
		fuzzy.SetBoost(0.8)

		textQueries := []query.Query{titleMatch, artistMatch, fuzzy}

		if len(q) >= 2 {
			prefix := bleve.NewPrefixQuery(strings.ToLower(q))
			prefix.SetField("title")
			prefix.SetBoost(0.5)
			textQueries = append(textQueries, prefix)
		}

		queries = append(queries, bleve.NewDisjunctionQuery(textQueries...))
	}

	if filter.Sender != "" {
		tq := bleve.NewTermQuery(filter.Sender)
		tq.SetField("sender")
		queries = append(queries, tq)
	}

	if filter.Artist != "" {
		tq := bleve.NewTermQuery(strings.ToLower(filter.Artist))
		tq.SetField("artist_exact")
		queries = append(queries, tq)
	}

	if filter.MinDuration > 0 || filter.MaxDuration > 0 {
		lo := float64(filter.MinDuration)
		hi := math.MaxFloat64
		if filter.MaxDuration > 0 {
			hi = float64(filter.MaxDuration)
		}
		inclusive := true
		rq := bleve.NewNumericRangeInclusiveQuery(&lo, &hi, &inclusive, &inclusive)
		rq.SetField("duration")
		queries = append(queries, rq)
	}

	switch len(queries) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return queries[0]
	default:
		return bleve.NewConjunctionQuery(queries...)
	}
}
