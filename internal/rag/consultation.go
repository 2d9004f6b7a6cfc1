package rag

import (
	"context"
	"fmt"

	"github.com/AndrewLee0430/medinotes/internal/llm"
)

// Visit holds a doctor's raw notes from a patient visit.
type Visit struct {
	PatientName string `json:"patient_name" validate:"required"`
	DateOfVisit string `json:"date_of_visit" validate:"required"`
	Notes       string `json:"notes" validate:"required"`
}

const consultationSystemPrompt = `You are provided with notes written by a doctor from a patient's visit.
Your job is to summarize the visit for the doctor and provide an email.
Reply with exactly three sections with the headings:
### Summary of visit for the doctor's records
### Next steps for the doctor
### Draft of email to patient in patient-friendly language`

func consultationUserPrompt(visit Visit) string {
	return fmt.Sprintf(`Create the summary, next steps and draft email for:
Patient Name: %s
Date of Visit: %s
Notes:
%s`, visit.PatientName, visit.DateOfVisit, visit.Notes)
}

// SummarizeVisitStream streams the three-section visit summary,
// invoking onDelta for each content fragment in arrival order.
func (g *Generator) SummarizeVisitStream(ctx context.Context, visit Visit, onDelta func(string) error) error {
	req := llm.CompletionRequest{
		Model: g.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: consultationSystemPrompt},
			{Role: llm.RoleUser, Content: consultationUserPrompt(visit)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	return g.provider.CompleteStream(ctx, req, onDelta)
}
