// Package verify cross-references FDA drug labels via an LLM call with
// a JSON contract and a bounded retry loop.
package verify

// Severity classifies a drug interaction.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityMajor    Severity = "Major"
	SeverityModerate Severity = "Moderate"
	SeverityMinor    Severity = "Minor"
	SeverityUnknown  Severity = "Unknown"
)

// Weight orders severities for ranking. Unknown weighs zero.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityMajor:
		return 3
	case SeverityModerate:
		return 2
	case SeverityMinor:
		return 1
	default:
		return 0
	}
}

// RiskLevel is the overall assessment of an analyzed drug set. Low
// means the analysis ran and found nothing; Unknown means it could not
// run or failed.
type RiskLevel string

const (
	RiskCritical RiskLevel = "Critical"
	RiskMajor    RiskLevel = "Major"
	RiskModerate RiskLevel = "Moderate"
	RiskMinor    RiskLevel = "Minor"
	RiskLow      RiskLevel = "Low"
	RiskUnknown  RiskLevel = "Unknown"
)

// DrugInteraction is one identified interaction. DrugPair always holds
// exactly two non-empty names drawn from the analyzed set.
type DrugInteraction struct {
	DrugPair       [2]string `json:"drug_pair"`
	Severity       Severity  `json:"severity"`
	Description    string    `json:"description"`
	Mechanism      string    `json:"mechanism,omitempty"`
	Recommendation string    `json:"recommendation"`
	Source         string    `json:"source"`
	SourceURL      string    `json:"source_url,omitempty"`
}

// Result is the terminal response of a verification run.
type Result struct {
	DrugsAnalyzed []string          `json:"drugs_analyzed"`
	Interactions  []DrugInteraction `json:"interactions"`
	Summary       string            `json:"summary"`
	RiskLevel     RiskLevel         `json:"risk_level"`
	QueryTimeMS   int64             `json:"query_time_ms"`
}
