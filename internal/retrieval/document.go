// Package retrieval defines the common document shape for all evidence
// sources and the hybrid retriever that merges them.
package retrieval

// SourceType identifies where a document came from.
type SourceType string

const (
	SourceLocal  SourceType = "local"
	SourcePubMed SourceType = "pubmed"
	SourceFDA    SourceType = "fda"
)

// Credibility ranks the evidence class of a document.
type Credibility string

const (
	CredibilityPeerReviewed  Credibility = "peer-reviewed"
	CredibilityOfficial      Credibility = "official"
	CredibilityClinicalTrial Credibility = "clinical-trial"
	CredibilityReview        Credibility = "review"
	CredibilityInternal      Credibility = "internal"
)

// Document is a normalized retrieved document. SourceID uniquely
// identifies a document within a retrieval batch (e.g. "PMID:123",
// "FDA:Glucophage") and is the dedup key.
type Document struct {
	Content        string      `json:"content"`
	SourceType     SourceType  `json:"source_type"`
	SourceID       string      `json:"source_id"`
	Title          string      `json:"title"`
	URL            string      `json:"url"`
	Credibility    Credibility `json:"credibility"`
	Year           string      `json:"year,omitempty"`
	Authors        string      `json:"authors,omitempty"`
	Journal        string      `json:"journal,omitempty"`
	RelevanceScore float64     `json:"relevance_score"`
}

// snippetLimit caps the citation snippet length.
const snippetLimit = 500

// Citation is a document projected for presentation, with a stable
// 1-based id matching the [n] markers in a generated answer.
type Citation struct {
	ID          int         `json:"id"`
	SourceType  SourceType  `json:"source_type"`
	SourceID    string      `json:"source_id"`
	Title       string      `json:"title"`
	Snippet     string      `json:"snippet"`
	URL         string      `json:"url"`
	Credibility Credibility `json:"credibility"`
	Year        string      `json:"year,omitempty"`
	Authors     string      `json:"authors,omitempty"`
	Journal     string      `json:"journal,omitempty"`
}

// TruncateRunes shortens s to at most limit runes, appending an
// ellipsis. Content is frequently Chinese, so byte slicing would split
// a rune.
func TruncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// ToCitation projects the document with the given presentation id.
func (d Document) ToCitation(id int) Citation {
	snippet := TruncateRunes(d.Content, snippetLimit)

	return Citation{
		ID:          id,
		SourceType:  d.SourceType,
		SourceID:    d.SourceID,
		Title:       d.Title,
		Snippet:     snippet,
		URL:         d.URL,
		Credibility: d.Credibility,
		Year:        d.Year,
		Authors:     d.Authors,
		Journal:     d.Journal,
	}
}
