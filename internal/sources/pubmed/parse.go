package pubmed

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

func msec(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Explicit record types for the efetch XML payload. The parser fails
// closed per record: a record missing a required field is dropped, not
// partially populated.

type articleSet struct {
	Articles []articleRecord `xml:"PubmedArticle"`
}

type articleRecord struct {
	PMID        string           `xml:"MedlineCitation>PMID"`
	Title       string           `xml:"MedlineCitation>Article>ArticleTitle"`
	Abstract    []abstractText   `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	Authors     []authorRecord   `xml:"MedlineCitation>Article>AuthorList>Author"`
	Journal     string           `xml:"MedlineCitation>Article>Journal>Title"`
	Year        string           `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Year"`
	MedlineDate string           `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>MedlineDate"`
	ArticleIDs  []articleIDEntry `xml:"PubmedData>ArticleIdList>ArticleId"`
}

type abstractText struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

type authorRecord struct {
	LastName string `xml:"LastName"`
	ForeName string `xml:"ForeName"`
}

type articleIDEntry struct {
	IDType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}

func parseArticleSet(data []byte) ([]Article, error) {
	var set articleSet
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("pubmed xml decode: %w", err)
	}

	var articles []Article
	for _, rec := range set.Articles {
		a, ok := normalize(rec)
		if !ok {
			continue
		}
		articles = append(articles, a)
	}
	return articles, nil
}

// normalize converts a raw record to an Article. It reports false for
// records without a PMID or abstract.
func normalize(rec articleRecord) (Article, bool) {
	pmid := strings.TrimSpace(rec.PMID)
	if pmid == "" {
		return Article{}, false
	}

	// Multi-paragraph abstracts are reassembled with blank-line
	// separators; labeled segments keep their label.
	var parts []string
	for _, seg := range rec.Abstract {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Label != "" {
			parts = append(parts, fmt.Sprintf("**%s:** %s", seg.Label, text))
		} else {
			parts = append(parts, text)
		}
	}
	abstract := strings.Join(parts, "\n\n")
	if abstract == "" {
		return Article{}, false
	}

	var authors []string
	for _, au := range rec.Authors {
		if au.LastName == "" {
			continue
		}
		authors = append(authors, strings.TrimSpace(au.LastName+" "+au.ForeName))
	}

	pubDate := rec.Year
	if pubDate == "" && len(rec.MedlineDate) >= 4 {
		pubDate = rec.MedlineDate[:4]
	}

	var doi string
	for _, id := range rec.ArticleIDs {
		if id.IDType == "doi" {
			doi = strings.TrimSpace(id.Value)
			break
		}
	}

	return Article{
		PMID:     pmid,
		Title:    strings.TrimSpace(rec.Title),
		Abstract: abstract,
		Authors:  authors,
		Journal:  rec.Journal,
		PubDate:  pubDate,
		DOI:      doi,
	}, true
}
