// Package audit records who queried what, with query content scrubbed
// of protected health information before it touches disk.
package audit

import "time"

// Action describes what was done.
type Action string

const (
	ActionResearchQuery    Action = "research_query"
	ActionInteractionCheck Action = "drug_interaction_check"
	ActionConsultation     Action = "consultation"
	ActionFeedback         Action = "feedback_submitted"
	ActionHistoryViewed    Action = "history_viewed"
	ActionKnowledgeIndexed Action = "knowledge_indexed"
)

// Entry is a single audit trail record. QueryContent is stored after
// sanitization; raw user input never reaches the table.
type Entry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id"`
	Action       Action    `json:"action"`
	QueryContent string    `json:"query_content"`
	ResourceIDs  []string  `json:"resource_ids"`
	IPAddress    string    `json:"ip_address"`
}
