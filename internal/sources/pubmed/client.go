// Package pubmed fetches medical literature through the NCBI
// E-utilities API (https://www.ncbi.nlm.nih.gov/books/NBK25501/).
package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const baseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// Article is a normalized PubMed record. Records without an abstract
// are never produced: an article without one is not useful for
// evidence synthesis.
type Article struct {
	PMID     string
	Title    string
	Abstract string
	Authors  []string
	Journal  string
	PubDate  string
	DOI      string
}

// URL returns the canonical PubMed link for the article.
func (a Article) URL() string {
	return fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", a.PMID)
}

// SourceID returns the globally unique identifier used for dedup.
func (a Article) SourceID() string {
	return "PMID:" + a.PMID
}

// ToText renders the article as markdown-ish text for the RAG context.
func (a Article) ToText() string {
	authors := strings.Join(firstN(a.Authors, 3), ", ")
	if len(a.Authors) > 3 {
		authors += " et al."
	}

	return fmt.Sprintf(`# %s

**Authors:** %s
**Journal:** %s (%s)
**PMID:** %s

## Abstract
%s
`, a.Title, authors, a.Journal, a.PubDate, a.PMID, a.Abstract)
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Client talks to the E-utilities endpoints. Calls through one Client
// are spaced to honor NCBI's published rate limit: 3/s without an API
// key, 10/s with one. The spacing is per-client; concurrent clients do
// not serialize against each other.
type Client struct {
	http    *resty.Client
	apiKey  string
	email   string
	limiter *rate.Limiter
}

// NewClient creates a PubMed client. Both arguments may be empty; the
// email is recommended by NCBI for identification.
func NewClient(apiKey, email string) *Client {
	interval := 340 // milliseconds between requests without a key
	if apiKey != "" {
		interval = 100
	}

	if email == "" {
		email = "medinotes@example.com"
	}

	return &Client{
		http:    resty.New().SetBaseURL(baseURL),
		apiKey:  apiKey,
		email:   email,
		limiter: rate.NewLimiter(rate.Every(msec(interval)), 1),
	}
}

func (c *Client) params(extra map[string]string) map[string]string {
	p := map[string]string{"db": "pubmed", "email": c.email}
	if c.apiKey != "" {
		p["api_key"] = c.apiKey
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// Search runs an esearch query and returns PMIDs ordered by the given
// sort ("relevance" or "date").
func (c *Client) Search(ctx context.Context, query string, maxResults int, sort string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(c.params(map[string]string{
			"term":    query,
			"retmax":  fmt.Sprintf("%d", maxResults),
			"retmode": "json",
			"sort":    sort,
		})).
		Get("/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("pubmed esearch: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("pubmed esearch: status %d", resp.StatusCode())
	}

	var parsed esearchResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("pubmed esearch decode: %w", err)
	}
	return parsed.Result.IDList, nil
}

// FetchDetails retrieves structured records for the given PMIDs.
// Individual malformed records are skipped, never failing the batch.
func (c *Client) FetchDetails(ctx context.Context, pmids []string) ([]Article, error) {
	if len(pmids) == 0 {
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(c.params(map[string]string{
			"id":      strings.Join(pmids, ","),
			"retmode": "xml",
			"rettype": "abstract",
		})).
		Get("/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("pubmed efetch: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("pubmed efetch: status %d", resp.StatusCode())
	}

	return parseArticleSet(resp.Body())
}

// SearchAndFetch combines Search and FetchDetails with relevance sort.
func (c *Client) SearchAndFetch(ctx context.Context, query string, maxResults int) ([]Article, error) {
	pmids, err := c.Search(ctx, query, maxResults, "relevance")
	if err != nil {
		return nil, err
	}
	if len(pmids) == 0 {
		return nil, nil
	}
	return c.FetchDetails(ctx, pmids)
}
