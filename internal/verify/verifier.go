package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	retry "github.com/avast/retry-go"

	"github.com/AndrewLee0430/medinotes/internal/audit"
	"github.com/AndrewLee0430/medinotes/internal/history"
	"github.com/AndrewLee0430/medinotes/internal/llm"
	"github.com/AndrewLee0430/medinotes/internal/sources/fda"
)

const (
	analysisModel = "gpt-4o-mini"

	// maxAttempts bounds the analysis retry loop.
	maxAttempts = 2
)

// AuditSink receives an audit entry per verification run.
type AuditSink interface {
	Log(ctx context.Context, entry audit.Entry) error
}

// HistorySink receives a chat-history record per verification run.
type HistorySink interface {
	Add(ctx context.Context, rec history.Record) (int64, error)
}

// Verifier runs the drug interaction check pipeline: collect labels,
// analyze with bounded retries, summarize, persist, respond.
type Verifier struct {
	labels   fda.LabelGetter
	provider llm.Provider
	auditLog AuditSink
	histLog  HistorySink
}

// NewVerifier creates a Verifier. auditLog and histLog may be nil;
// persistence is best-effort either way.
func NewVerifier(labels fda.LabelGetter, provider llm.Provider, auditLog AuditSink, histLog HistorySink) *Verifier {
	return &Verifier{labels: labels, provider: provider, auditLog: auditLog, histLog: histLog}
}

// Check analyzes the given drugs for interactions. It never returns an
// internal error to the caller; failures degrade to a well-formed
// Result with RiskLevel Unknown.
func (v *Verifier) Check(ctx context.Context, userID string, drugs []string, patientContext string) Result {
	start := time.Now()

	// COLLECT_LABELS: best single match per drug; drugs with no
	// label are excluded from analysis.
	var labels []fda.Label
	for _, drug := range drugs {
		label, err := v.labels.GetLabel(ctx, drug)
		if err != nil {
			log.Printf("verify: label lookup for %q: %v", drug, err)
			continue
		}
		if label != nil {
			labels = append(labels, *label)
		}
	}

	if len(labels) == 0 {
		result := Result{
			DrugsAnalyzed: drugs,
			Interactions:  []DrugInteraction{},
			Summary:       "無法在 FDA 資料庫中找到這些藥物的標籤資訊，請確認拼字或使用英文藥名。",
			RiskLevel:     RiskUnknown,
			QueryTimeMS:   time.Since(start).Milliseconds(),
		}
		v.persist(ctx, userID, drugs, result)
		return result
	}

	// ANALYZE with a bounded retry loop. Each attempt is a pure
	// call returning a tagged outcome.
	var outcome attemptOutcome
	err := retry.Do(
		func() error {
			out, err := v.analyzeOnce(ctx, drugs, patientContext, labels)
			if err != nil {
				return err
			}
			outcome = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.LastErrorOnly(true),
	)

	var result Result
	switch {
	case err != nil:
		result = Result{
			DrugsAnalyzed: drugs,
			Interactions:  []DrugInteraction{},
			Summary:       fmt.Sprintf("分析失敗，已重試 %d 次。錯誤: %v", maxAttempts, err),
			RiskLevel:     RiskUnknown,
		}
	case len(outcome.interactions) == 0:
		result = Result{
			DrugsAnalyzed: drugs,
			Interactions:  []DrugInteraction{},
			Summary:       "在提供的 FDA 資料中未發現顯著的藥物交互作用。但這不代表完全沒有風險，請諮詢專業醫療人員。",
			RiskLevel:     RiskLow,
		}
	default:
		result = Result{
			DrugsAnalyzed: drugs,
			Interactions:  outcome.interactions,
			Summary:       summarize(outcome.interactions),
			RiskLevel:     highestRisk(outcome.interactions),
		}
	}
	result.QueryTimeMS = time.Since(start).Milliseconds()

	v.persist(ctx, userID, drugs, result)
	return result
}

// attemptOutcome is the tagged result of one analysis attempt. An
// empty interactions slice means the model explicitly reported none.
type attemptOutcome struct {
	interactions []DrugInteraction
}

// analysisPayload is the JSON contract the model must satisfy. The
// interactions field is a pointer so an explicit empty list can be told
// apart from a missing field.
type analysisPayload struct {
	Interactions *[]analysisItem `json:"interactions"`
	Summary      string          `json:"summary"`
	RiskLevel    string          `json:"risk_level"`
}

type analysisItem struct {
	Drugs          []string `json:"drugs"`
	Severity       string   `json:"severity"`
	Description    string   `json:"description"`
	Mechanism      string   `json:"mechanism"`
	Recommendation string   `json:"recommendation"`
}

// analyzeOnce issues one structured-output model call and validates the
// response item by item. Valid entries are kept even when siblings are
// malformed. An explicit empty interactions list is a successful
// outcome; a response yielding no usable information is an error, which
// lets the caller's retry policy decide.
func (v *Verifier) analyzeOnce(ctx context.Context, drugs []string, patientContext string, labels []fda.Label) (attemptOutcome, error) {
	resp, err := v.provider.Complete(ctx, llm.CompletionRequest{
		Model: analysisModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: analysisSystemPrompt},
			{Role: llm.RoleUser, Content: buildAnalysisPrompt(drugs, patientContext, labels)},
		},
		JSONMode: true,
	})
	if err != nil {
		return attemptOutcome{}, fmt.Errorf("analysis completion: %w", err)
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(resp.Content), &payload); err != nil {
		return attemptOutcome{}, fmt.Errorf("parsing analysis response: %w", err)
	}
	if payload.Interactions == nil {
		return attemptOutcome{}, fmt.Errorf("analysis response missing interactions field")
	}

	items := *payload.Interactions
	valid := make([]DrugInteraction, 0, len(items))
	for _, item := range items {
		interaction, ok := parseItem(item)
		if !ok {
			log.Printf("verify: dropping malformed interaction entry: %+v", item)
			continue
		}
		valid = append(valid, interaction)
	}

	// An explicit empty list is a valid finding. A non-empty list
	// where nothing survived validation carries no information.
	if len(valid) == 0 && len(items) > 0 {
		return attemptOutcome{}, fmt.Errorf("analysis returned %d entries, none valid", len(items))
	}
	return attemptOutcome{interactions: valid}, nil
}

// parseItem validates one model-produced entry. An interaction must
// name at least two non-empty drugs or it is discarded.
func parseItem(item analysisItem) (DrugInteraction, bool) {
	var names []string
	for _, d := range item.Drugs {
		if strings.TrimSpace(d) != "" {
			names = append(names, strings.TrimSpace(d))
		}
	}
	if len(names) < 2 {
		return DrugInteraction{}, false
	}

	severity := Severity(item.Severity)
	if severity.Weight() == 0 {
		severity = SeverityUnknown
	}

	description := item.Description
	if description == "" {
		description = "No description provided"
	}

	return DrugInteraction{
		DrugPair:       [2]string{names[0], names[1]},
		Severity:       severity,
		Description:    description,
		Mechanism:      item.Mechanism,
		Recommendation: item.Recommendation,
		Source:         "FDA Label Analysis",
		SourceURL:      dailyMedURL(names[0]),
	}, true
}

func dailyMedURL(drug string) string {
	return "https://dailymed.nlm.nih.gov/dailymed/search.cfm?labeltype=all&query=" + strings.ReplaceAll(drug, " ", "+")
}

// summarize renders the severity breakdown ranked by weight.
func summarize(interactions []DrugInteraction) string {
	counts := make(map[Severity]int)
	for _, i := range interactions {
		counts[i.Severity]++
	}

	severities := make([]Severity, 0, len(counts))
	for s := range counts {
		severities = append(severities, s)
	}
	sort.Slice(severities, func(i, j int) bool {
		return severities[i].Weight() > severities[j].Weight()
	})

	parts := make([]string, len(severities))
	for i, s := range severities {
		parts[i] = fmt.Sprintf("%d 個%s", counts[s], s)
	}

	return fmt.Sprintf("發現 %d 個藥物交互作用：%s。請參閱下方詳細說明並諮詢專業醫療人員。",
		len(interactions), strings.Join(parts, ", "))
}

// highestRisk maps the worst present severity to the overall level.
func highestRisk(interactions []DrugInteraction) RiskLevel {
	best := SeverityMinor
	for _, i := range interactions {
		if i.Severity.Weight() > best.Weight() {
			best = i.Severity
		}
	}
	switch best {
	case SeverityCritical:
		return RiskCritical
	case SeverityMajor:
		return RiskMajor
	case SeverityModerate:
		return RiskModerate
	default:
		return RiskMinor
	}
}

// persist writes audit and history records. Failures are logged, never
// surfaced; persistence must not fail the user-facing response.
func (v *Verifier) persist(ctx context.Context, userID string, drugs []string, result Result) {
	resourceIDs := make([]string, len(result.Interactions))
	for i, interaction := range result.Interactions {
		resourceIDs[i] = interaction.DrugPair[0] + "+" + interaction.DrugPair[1]
	}

	if v.auditLog != nil {
		err := v.auditLog.Log(ctx, audit.Entry{
			UserID:       userID,
			Action:       audit.ActionInteractionCheck,
			QueryContent: "Checked: " + strings.Join(drugs, ", "),
			ResourceIDs:  resourceIDs,
		})
		if err != nil {
			log.Printf("verify: audit log: %v", err)
		}
	}

	if v.histLog != nil {
		_, err := v.histLog.Add(ctx, history.Record{
			UserID:      userID,
			SessionType: history.SessionVerify,
			Question:    "Drugs: " + strings.Join(drugs, ", "),
			Answer:      result.Summary,
		})
		if err != nil {
			log.Printf("verify: history save: %v", err)
		}
	}
}

const analysisSystemPrompt = `You are a clinical pharmacist. Analyze the provided FDA drug labels for interactions.
Identify interactions between the listed drugs.
Classify severity as: Critical, Major, Moderate, Minor.

CRITICAL: You MUST return valid JSON with this EXACT structure:
{
    "interactions": [
        {
            "drugs": ["Drug1", "Drug2"],
            "severity": "Major",
            "description": "Detailed description of the interaction",
            "recommendation": "Clinical recommendation"
        }
    ],
    "summary": "Brief summary of findings",
    "risk_level": "Major"
}

IMPORTANT RULES:
1. The "drugs" field MUST be an array with exactly 2 drug names (strings)
2. NEVER use empty arrays [] for the "drugs" field
3. Drug names must match the input drugs exactly
4. If no interactions found, return an empty "interactions" array: []
5. Always include "summary" and "risk_level" fields

Output JSON only, no additional text.`

func buildAnalysisPrompt(drugs []string, patientContext string, labels []fda.Label) string {
	if patientContext == "" {
		patientContext = "None"
	}

	texts := make([]string, len(labels))
	for i, label := range labels {
		texts[i] = label.ToText()
	}

	return fmt.Sprintf(`Patient Context: %s
Drugs to Analyze: %s

Reference FDA Data:
%s

Please analyze interactions between these drugs based on the FDA data provided.`,
		patientContext, strings.Join(drugs, ", "), strings.Join(texts, "\n"))
}
