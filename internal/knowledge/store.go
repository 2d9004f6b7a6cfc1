// Package knowledge wraps chromem-go as the local medical knowledge
// vector store (clinical guidelines, curated literature, drug data).
package knowledge

import (
	"context"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/AndrewLee0430/medinotes/internal/retrieval"
)

const collectionName = "medical_knowledge"

// Store is a chromem-go backed vector store of retrieval documents.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	embedFunc  chromem.EmbeddingFunc
}

// NewStore creates an in-memory Store.
func NewStore(embedder Embedder) (*Store, error) {
	db := chromem.NewDB()
	ef := embeddingFunc(embedder)

	col, err := db.GetOrCreateCollection(collectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	return &Store{db: db, collection: col, embedder: embedder, embedFunc: ef}, nil
}

// AddDocuments embeds and stores the given documents. The document ID
// combines source type and source ID, so re-adding the same document
// overwrites rather than duplicates.
func (s *Store) AddDocuments(ctx context.Context, docs []retrieval.Document) error {
	if len(docs) == 0 {
		return nil
	}

	chromDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromDocs[i] = chromem.Document{
			ID:       fmt.Sprintf("%s_%s", doc.SourceType, doc.SourceID),
			Content:  doc.Content,
			Metadata: metadataToMap(doc),
		}
	}

	return s.collection.AddDocuments(ctx, chromDocs, 1)
}

// Search returns documents relevant to query, scored in (0,1] and
// filtered by minScore. Candidates below the threshold are excluded,
// not down-ranked.
func (s *Store) Search(ctx context.Context, query string, nResults int, minScore float64) ([]retrieval.Document, error) {
	if nResults <= 0 {
		nResults = 10
	}

	// chromem-go requires nResults <= collection size.
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if nResults > count {
		nResults = count
	}

	results, err := s.collection.Query(ctx, query, nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	var docs []retrieval.Document
	for _, r := range results {
		score := similarityToScore(r.Similarity)
		if score < minScore {
			continue
		}

		doc := mapToDocument(r.Metadata)
		doc.Content = r.Content
		doc.RelevanceScore = score
		docs = append(docs, doc)
	}
	return docs, nil
}

// similarityToScore converts cosine similarity to the 1/(1+distance)
// relevance score, with distance = 1 - similarity. Monotonic in the
// similarity, range (0,1].
func similarityToScore(similarity float32) float64 {
	return 1 / (2 - float64(similarity))
}

// Stats describes the store contents.
type Stats struct {
	TotalDocuments int    `json:"total_documents"`
	CollectionName string `json:"collection_name"`
}

// GetStats returns store statistics.
func (s *Store) GetStats() Stats {
	return Stats{
		TotalDocuments: s.collection.Count(),
		CollectionName: collectionName,
	}
}

// Count returns the number of stored documents.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Persist exports the store to a compressed gob file in dir.
func (s *Store) Persist(ctx context.Context, dir string) error {
	return s.db.ExportToFile(dir+"/knowledge.gob.gz", true, "")
}

// Load imports a previously persisted store from dir.
func (s *Store) Load(ctx context.Context, dir string) error {
	if err := s.db.ImportFromFile(dir+"/knowledge.gob.gz", ""); err != nil {
		return fmt.Errorf("import from file: %w", err)
	}

	// Re-acquire collection reference after import.
	col := s.db.GetCollection(collectionName, s.embedFunc)
	if col == nil {
		return fmt.Errorf("collection %q not found after import", collectionName)
	}
	s.collection = col
	return nil
}

func metadataToMap(doc retrieval.Document) map[string]string {
	return map[string]string{
		"source_type": string(doc.SourceType),
		"source_id":   doc.SourceID,
		"title":       doc.Title,
		"url":         doc.URL,
		"credibility": string(doc.Credibility),
		"year":        doc.Year,
		"authors":     doc.Authors,
		"journal":     doc.Journal,
	}
}

func mapToDocument(m map[string]string) retrieval.Document {
	return retrieval.Document{
		SourceType:  retrieval.SourceType(m["source_type"]),
		SourceID:    m["source_id"],
		Title:       m["title"],
		URL:         m["url"],
		Credibility: retrieval.Credibility(m["credibility"]),
		Year:        m["year"],
		Authors:     m["authors"],
		Journal:     m["journal"],
	}
}
