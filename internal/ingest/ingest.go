// Package ingest builds the local medical knowledge base from curated
// PubMed topics, FDA drug labels, and local drug data files.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/AndrewLee0430/medinotes/internal/knowledge"
	"github.com/AndrewLee0430/medinotes/internal/progress"
	"github.com/AndrewLee0430/medinotes/internal/retrieval"
	"github.com/AndrewLee0430/medinotes/internal/sources/fda"
	"github.com/AndrewLee0430/medinotes/internal/sources/pubmed"
)

// DefaultTopics is the curated PubMed search list covering common
// chronic conditions, interaction-prone drugs, and frequent therapies.
var DefaultTopics = []string{
	"diabetes mellitus type 2 treatment guidelines",
	"hypertension management therapy",
	"hyperlipidemia statin treatment",

	"drug interaction warfarin",
	"drug interaction metformin",
	"drug interaction aspirin",
	"polypharmacy elderly adverse effects",

	"metformin clinical efficacy safety",
	"ACE inhibitor heart failure",
	"proton pump inhibitor long term effects",
	"NSAID adverse effects elderly",
}

// DefaultDrugs is the FDA label list seeded into the knowledge base.
var DefaultDrugs = []string{
	"metformin", "glipizide", "sitagliptin",
	"lisinopril", "amlodipine", "losartan",
	"atorvastatin", "simvastatin",
	"warfarin", "aspirin",
	"omeprazole", "levothyroxine", "gabapentin",
	"prednisone", "ibuprofen", "acetaminophen",
}

// articlesPerTopic caps how many articles one topic contributes.
const articlesPerTopic = 20

// PubMedSource fetches articles for a topic.
type PubMedSource interface {
	SearchAndFetch(ctx context.Context, query string, maxResults int) ([]pubmed.Article, error)
}

// FDASource fetches drug labels.
type FDASource interface {
	SearchLabels(ctx context.Context, query string, limit int) ([]fda.Label, error)
}

// Options controls one indexing run.
type Options struct {
	Topics     []string
	Drugs      []string
	LocalGlobs []string
	PersistDir string
}

// Stats summarizes an indexing run.
type Stats struct {
	PubMedDocs int
	FDADocs    int
	LocalDocs  int
	Failed     int
}

// Total returns the number of documents indexed.
func (s Stats) Total() int {
	return s.PubMedDocs + s.FDADocs + s.LocalDocs
}

// Indexer fetches source material and loads it into the knowledge store.
type Indexer struct {
	store    *knowledge.Store
	pubmed   PubMedSource
	fda      FDASource
	reporter progress.Reporter
}

// NewIndexer creates an Indexer. reporter may be nil.
func NewIndexer(store *knowledge.Store, pm PubMedSource, fd FDASource, reporter progress.Reporter) *Indexer {
	return &Indexer{store: store, pubmed: pm, fda: fd, reporter: reporter}
}

// Run performs a full indexing pass. Per-source failures are logged and
// counted, never fatal; the run fails only when nothing was indexed or
// the store itself rejects the documents.
func (ix *Indexer) Run(ctx context.Context, opts Options) (Stats, error) {
	if len(opts.Topics) == 0 {
		opts.Topics = DefaultTopics
	}
	if len(opts.Drugs) == 0 {
		opts.Drugs = DefaultDrugs
	}

	var stats Stats
	total := len(opts.Topics) + len(opts.Drugs) + len(opts.LocalGlobs)
	if ix.reporter != nil {
		ix.reporter.Start(total)
		defer ix.reporter.Finish()
	}
	step := 0
	report := func(msg string) {
		step++
		if ix.reporter != nil {
			ix.reporter.Update(step, msg)
		}
	}

	var docs []retrieval.Document

	for _, topic := range opts.Topics {
		report("PubMed: " + topic)
		articles, err := ix.pubmed.SearchAndFetch(ctx, topic, articlesPerTopic)
		if err != nil {
			log.Printf("ingest: pubmed topic %q: %v", topic, err)
			stats.Failed++
			continue
		}
		for _, a := range articles {
			docs = append(docs, articleDocument(a))
			stats.PubMedDocs++
		}
	}

	for _, drug := range opts.Drugs {
		report("FDA: " + drug)
		labels, err := ix.fda.SearchLabels(ctx, drug, 1)
		if err != nil {
			log.Printf("ingest: fda drug %q: %v", drug, err)
			stats.Failed++
			continue
		}
		for _, l := range labels {
			docs = append(docs, labelDocument(l))
			stats.FDADocs++
		}
	}

	for _, pattern := range opts.LocalGlobs {
		report("local: " + pattern)
		local, failed := loadLocalFiles(pattern)
		docs = append(docs, local...)
		stats.LocalDocs += len(local)
		stats.Failed += failed
	}

	if len(docs) == 0 {
		return stats, fmt.Errorf("no documents indexed (%d sources failed)", stats.Failed)
	}

	if err := ix.store.AddDocuments(ctx, docs); err != nil {
		return stats, fmt.Errorf("adding documents to store: %w", err)
	}

	if opts.PersistDir != "" {
		if err := ix.store.Persist(ctx, opts.PersistDir); err != nil {
			return stats, fmt.Errorf("persisting knowledge store: %w", err)
		}
	}

	return stats, nil
}

func articleDocument(a pubmed.Article) retrieval.Document {
	authors := strings.Join(a.Authors, ", ")
	if len(a.Authors) > 3 {
		authors = strings.Join(a.Authors[:3], ", ") + " et al."
	}

	return retrieval.Document{
		Content:     a.ToText(),
		SourceType:  retrieval.SourcePubMed,
		SourceID:    a.SourceID(),
		Title:       a.Title,
		URL:         a.URL(),
		Credibility: retrieval.CredibilityPeerReviewed,
		Year:        a.PubDate,
		Authors:     authors,
		Journal:     a.Journal,
	}
}

func labelDocument(l fda.Label) retrieval.Document {
	return retrieval.Document{
		Content:     l.ToText(),
		SourceType:  retrieval.SourceFDA,
		SourceID:    l.SourceID(),
		Title:       fmt.Sprintf("%s (%s)", l.BrandName, l.GenericName),
		URL:         l.URL(),
		Credibility: retrieval.CredibilityOfficial,
		Authors:     l.Manufacturer,
	}
}

// drugFile is the JSON shape of a locally curated drug data file.
type drugFile struct {
	DrugName          string   `json:"drug_name"`
	GenericName       string   `json:"generic_name"`
	BrandNames        []string `json:"brand_names"`
	Indications       string   `json:"indications"`
	Dosage            string   `json:"dosage"`
	Contraindications string   `json:"contraindications"`
	Warnings          string   `json:"warnings"`
}

// loadLocalFiles reads drug JSON files matched by the glob. A file with
// no drug name is skipped rather than half-loaded.
func loadLocalFiles(pattern string) (docs []retrieval.Document, failed int) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		log.Printf("ingest: bad glob %q: %v", pattern, err)
		return nil, 1
	}

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("ingest: reading %s: %v", path, err)
			failed++
			continue
		}

		var df drugFile
		if err := json.Unmarshal(data, &df); err != nil {
			log.Printf("ingest: parsing %s: %v", path, err)
			failed++
			continue
		}
		if df.DrugName == "" {
			log.Printf("ingest: %s has no drug_name, skipping", path)
			failed++
			continue
		}

		docs = append(docs, drugFileDocument(df))
	}
	return docs, failed
}

func drugFileDocument(df drugFile) retrieval.Document {
	var b strings.Builder
	fmt.Fprintf(&b, "Drug: %s\n", df.DrugName)
	if df.GenericName != "" {
		fmt.Fprintf(&b, "Generic Name: %s\n", df.GenericName)
	}
	if len(df.BrandNames) > 0 {
		fmt.Fprintf(&b, "Brand Names: %s\n", strings.Join(df.BrandNames, ", "))
	}
	if df.Indications != "" {
		fmt.Fprintf(&b, "\nIndications and Usage:\n%s\n", df.Indications)
	}
	if df.Dosage != "" {
		fmt.Fprintf(&b, "\nDosage and Administration:\n%s\n", df.Dosage)
	}
	if df.Contraindications != "" {
		fmt.Fprintf(&b, "\nContraindications:\n%s\n", df.Contraindications)
	}
	if df.Warnings != "" {
		fmt.Fprintf(&b, "\nWarnings and Precautions:\n%s\n", df.Warnings)
	}

	return retrieval.Document{
		Content:     strings.TrimSpace(b.String()),
		SourceType:  retrieval.SourceLocal,
		SourceID:    "drug:" + strings.ToLower(df.DrugName),
		Title:       df.DrugName,
		URL:         "local://drug/" + strings.ToLower(df.DrugName),
		Credibility: retrieval.CredibilityInternal,
	}
}
