// Package fda queries the openFDA drug label API
// (https://open.fda.gov/apis/).
package fda

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const baseURL = "https://api.fda.gov/drug"

const sectionLimit = 2000 // characters per label section in ToText

// Label is a normalized FDA drug label.
type Label struct {
	BrandName         string `json:"brand_name"`
	GenericName       string `json:"generic_name"`
	Manufacturer      string `json:"manufacturer"`
	Indications       string `json:"indications,omitempty"`
	Warnings          string `json:"warnings,omitempty"`
	AdverseReactions  string `json:"adverse_reactions,omitempty"`
	DrugInteractions  string `json:"drug_interactions,omitempty"`
	Dosage            string `json:"dosage,omitempty"`
	Contraindications string `json:"contraindications,omitempty"`
}

// URL returns the FDA label portal link.
func (l Label) URL() string {
	return "https://labels.fda.gov/"
}

// SourceID returns the dedup identifier for the label.
func (l Label) SourceID() string {
	return "FDA:" + l.BrandName
}

// ToText renders the label sections as text for the RAG context, with
// each section truncated to a fixed character budget.
func (l Label) ToText() string {
	sections := []string{
		fmt.Sprintf("# %s (%s)", l.BrandName, l.GenericName),
		fmt.Sprintf("\n**Manufacturer:** %s", l.Manufacturer),
		"**Source:** FDA Official Drug Label",
	}

	add := func(heading, body string) {
		if body != "" {
			sections = append(sections, fmt.Sprintf("\n## %s\n%s", heading, truncate(body, sectionLimit)))
		}
	}
	add("Indications and Usage", l.Indications)
	add("Warnings", l.Warnings)
	add("Adverse Reactions", l.AdverseReactions)
	add("Drug Interactions", l.DrugInteractions)
	add("Dosage and Administration", l.Dosage)
	add("Contraindications", l.Contraindications)

	return strings.Join(sections, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Client talks to the openFDA label endpoint. Calls through one Client
// are spaced to the published rate limit: 40/min without an API key,
// 240/min with one.
type Client struct {
	http    *resty.Client
	apiKey  string
	limiter *rate.Limiter
}

// NewClient creates an FDA client; apiKey may be empty.
func NewClient(apiKey string) *Client {
	intervalMs := 1500
	if apiKey != "" {
		intervalMs = 250
	}

	return &Client{
		http:    resty.New().SetBaseURL(baseURL),
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Every(msec(intervalMs)), 1),
	}
}

// Explicit record types for the label API payload. parseRecord fails
// closed: a record with neither brand nor generic name is skipped.

type searchResponse struct {
	Results []labelRecord `json:"results"`
}

type labelRecord struct {
	OpenFDA           openFDAFields `json:"openfda"`
	Indications       []string      `json:"indications_and_usage"`
	Warnings          []string      `json:"warnings"`
	AdverseReactions  []string      `json:"adverse_reactions"`
	DrugInteractions  []string      `json:"drug_interactions"`
	Dosage            []string      `json:"dosage_and_administration"`
	Contraindications []string      `json:"contraindications"`
}

type openFDAFields struct {
	BrandName        []string `json:"brand_name"`
	GenericName      []string `json:"generic_name"`
	ManufacturerName []string `json:"manufacturer_name"`
	SubstanceName    []string `json:"substance_name"`
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

func parseRecord(rec labelRecord) (Label, bool) {
	brand := first(rec.OpenFDA.BrandName)
	generic := first(rec.OpenFDA.GenericName)
	if brand == "" && generic == "" {
		return Label{}, false
	}
	if brand == "" {
		brand = generic
	}
	if generic == "" {
		generic = brand
	}

	manufacturer := first(rec.OpenFDA.ManufacturerName)
	if manufacturer == "" {
		manufacturer = "Unknown"
	}

	return Label{
		BrandName:         brand,
		GenericName:       generic,
		Manufacturer:      manufacturer,
		Indications:       first(rec.Indications),
		Warnings:          first(rec.Warnings),
		AdverseReactions:  first(rec.AdverseReactions),
		DrugInteractions:  first(rec.DrugInteractions),
		Dosage:            first(rec.Dosage),
		Contraindications: first(rec.Contraindications),
	}, true
}

// search runs one label.json query. An HTTP 404 means "no matches" and
// yields an empty result, not an error.
func (c *Client) search(ctx context.Context, searchExpr string, limit int) ([]Label, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := map[string]string{
		"search": searchExpr,
		"limit":  fmt.Sprintf("%d", limit),
	}
	if c.apiKey != "" {
		params["api_key"] = c.apiKey
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/label.json")
	if err != nil {
		return nil, fmt.Errorf("fda label search: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fda label search: status %d", resp.StatusCode())
	}

	var parsed searchResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("fda label decode: %w", err)
	}

	var labels []Label
	for _, rec := range parsed.Results {
		if label, ok := parseRecord(rec); ok {
			labels = append(labels, label)
		}
	}
	return labels, nil
}

// SearchLabels searches brand and generic name fields together with OR
// semantics, for bulk retrieval.
func (c *Client) SearchLabels(ctx context.Context, query string, limit int) ([]Label, error) {
	expr := fmt.Sprintf(`openfda.brand_name:"%s" OR openfda.generic_name:"%s"`, query, query)
	return c.search(ctx, expr, limit)
}

// GetLabel finds the single best label for a drug name, trying the
// brand, generic, then substance name fields and stopping at the first
// field that yields a result. Returns nil when no field matches.
func (c *Client) GetLabel(ctx context.Context, drugName string) (*Label, error) {
	fields := []string{"openfda.brand_name", "openfda.generic_name", "openfda.substance_name"}

	for _, field := range fields {
		labels, err := c.search(ctx, fmt.Sprintf(`%s:"%s"`, field, drugName), 1)
		if err != nil {
			return nil, err
		}
		if len(labels) > 0 {
			return &labels[0], nil
		}
	}
	return nil, nil
}
