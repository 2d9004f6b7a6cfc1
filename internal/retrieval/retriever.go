package retrieval

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/AndrewLee0430/medinotes/internal/sources/fda"
	"github.com/AndrewLee0430/medinotes/internal/sources/pubmed"
)

// PubMed and FDA results carry fixed scores because those APIs expose
// no comparable relevance metric. Ranking across sources is therefore
// only approximate: local hits scoring above these constants will
// outrank literature and label hits regardless of topicality. Callers
// needing fair cross-source ranking should normalize per-source before
// merging.
const (
	pubmedScore = 0.8
	fdaScore    = 0.75
)

// LocalSearcher is the local vector search collaborator. Candidates
// scoring below minScore are excluded, not down-ranked.
type LocalSearcher interface {
	Search(ctx context.Context, query string, nResults int, minScore float64) ([]Document, error)
}

// ArticleSearcher is the PubMed collaborator.
type ArticleSearcher interface {
	SearchAndFetch(ctx context.Context, query string, maxResults int) ([]pubmed.Article, error)
}

// LabelSearcher is the FDA collaborator.
type LabelSearcher interface {
	SearchLabels(ctx context.Context, query string, limit int) ([]fda.Label, error)
}

// Retriever fans a query out to the enabled sources, merges the
// results, dedups by SourceID and ranks by relevance score.
type Retriever struct {
	local  LocalSearcher
	pubmed ArticleSearcher
	fda    LabelSearcher

	localThreshold float64
}

// Options configures a Retriever. A nil collaborator disables that
// branch.
type Options struct {
	Local          LocalSearcher
	PubMed         ArticleSearcher
	FDA            LabelSearcher
	LocalThreshold float64 // minimum local similarity, default 0.6
}

// New creates a Retriever.
func New(opts Options) *Retriever {
	threshold := opts.LocalThreshold
	if threshold == 0 {
		threshold = 0.6
	}
	return &Retriever{
		local:          opts.Local,
		pubmed:         opts.PubMed,
		fda:            opts.FDA,
		localThreshold: threshold,
	}
}

func filterAllows(filter []SourceType, s SourceType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == s {
			return true
		}
	}
	return false
}

// Retrieve runs the enabled, filter-permitted branches concurrently and
// returns at most maxResults documents ranked by relevance score
// descending. A failing branch contributes an empty list; it never
// aborts the others.
//
// When two branches return the same SourceID, the first occurrence by
// branch completion order wins. That order is not stable across runs,
// which is acceptable: duplicate SourceIDs carry near-identical content.
func (r *Retriever) Retrieve(ctx context.Context, query string, maxResults int, sourceFilter []SourceType) []Document {
	if maxResults <= 0 {
		return nil
	}

	type branch func(context.Context) []Document
	var branches []branch

	if r.local != nil && filterAllows(sourceFilter, SourceLocal) {
		branches = append(branches, func(ctx context.Context) []Document {
			return r.searchLocal(ctx, query, maxResults)
		})
	}
	if r.pubmed != nil && filterAllows(sourceFilter, SourcePubMed) {
		branches = append(branches, func(ctx context.Context) []Document {
			return r.searchPubMed(ctx, query, maxResults)
		})
	}
	if r.fda != nil && filterAllows(sourceFilter, SourceFDA) {
		branches = append(branches, func(ctx context.Context) []Document {
			return r.searchFDA(ctx, query, maxResults)
		})
	}

	// Each branch writes only its own slot; results are merged after
	// the all-complete join.
	results := make([][]Document, len(branches))
	var wg sync.WaitGroup
	for i, b := range branches {
		i, b := i, b
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = b(ctx)
		}()
	}
	wg.Wait()

	var all []Document
	for _, docs := range results {
		all = append(all, docs...)
	}

	// Dedup by SourceID, first occurrence wins.
	seen := make(map[string]struct{}, len(all))
	unique := all[:0]
	for _, doc := range all {
		if _, dup := seen[doc.SourceID]; dup {
			continue
		}
		seen[doc.SourceID] = struct{}{}
		unique = append(unique, doc)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return unique[i].RelevanceScore > unique[j].RelevanceScore
	})

	if len(unique) > maxResults {
		unique = unique[:maxResults]
	}
	return unique
}

func (r *Retriever) searchLocal(ctx context.Context, query string, maxResults int) []Document {
	docs, err := r.local.Search(ctx, query, maxResults, r.localThreshold)
	if err != nil {
		log.Printf("retriever: local search: %v", err)
		return nil
	}
	return docs
}

func (r *Retriever) searchPubMed(ctx context.Context, query string, maxResults int) []Document {
	articles, err := r.pubmed.SearchAndFetch(ctx, query, maxResults)
	if err != nil {
		log.Printf("retriever: pubmed search: %v", err)
		return nil
	}

	docs := make([]Document, 0, len(articles))
	for _, a := range articles {
		authors := a.Authors
		if len(authors) > 3 {
			authors = authors[:3]
		}
		docs = append(docs, Document{
			Content:        a.ToText(),
			SourceType:     SourcePubMed,
			SourceID:       a.SourceID(),
			Title:          a.Title,
			URL:            a.URL(),
			Credibility:    CredibilityPeerReviewed,
			Year:           a.PubDate,
			Authors:        strings.Join(authors, ", "),
			Journal:        a.Journal,
			RelevanceScore: pubmedScore,
		})
	}
	return docs
}

func (r *Retriever) searchFDA(ctx context.Context, query string, maxResults int) []Document {
	labels, err := r.fda.SearchLabels(ctx, query, maxResults)
	if err != nil {
		log.Printf("retriever: fda search: %v", err)
		return nil
	}

	docs := make([]Document, 0, len(labels))
	for _, l := range labels {
		docs = append(docs, Document{
			Content:        l.ToText(),
			SourceType:     SourceFDA,
			SourceID:       l.SourceID(),
			Title:          l.BrandName + " (" + l.GenericName + ")",
			URL:            l.URL(),
			Credibility:    CredibilityOfficial,
			Authors:        l.Manufacturer,
			RelevanceScore: fdaScore,
		})
	}
	return docs
}
