package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/AndrewLee0430/medinotes/internal/db"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestLogAndGetByID(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	entry := Entry{
		ID:           "test-1",
		UserID:       "dr-chen",
		Action:       ActionResearchQuery,
		QueryContent: "metformin contraindications renal impairment",
		ResourceIDs:  []string{"PMID:12345", "FDA:Glucophage"},
		IPAddress:    "10.0.0.7",
	}

	if err := store.Log(ctx, entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	got, err := store.GetByID(ctx, "test-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	if got.UserID != "dr-chen" {
		t.Errorf("UserID = %q, want dr-chen", got.UserID)
	}
	if got.Action != ActionResearchQuery {
		t.Errorf("Action = %q, want %q", got.Action, ActionResearchQuery)
	}
	if got.QueryContent != "metformin contraindications renal impairment" {
		t.Errorf("QueryContent = %q", got.QueryContent)
	}
	if len(got.ResourceIDs) != 2 || got.ResourceIDs[1] != "FDA:Glucophage" {
		t.Errorf("ResourceIDs = %v, want [PMID:12345 FDA:Glucophage]", got.ResourceIDs)
	}
	if got.IPAddress != "10.0.0.7" {
		t.Errorf("IPAddress = %q", got.IPAddress)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestLogGeneratesUUID(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.Log(ctx, Entry{
		UserID: "system",
		Action: ActionKnowledgeIndexed,
	}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := store.Query(ctx, QueryFilter{UserID: "system"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].ID == "" {
		t.Error("ID was not generated")
	}
}

func TestLogSanitizesQueryContent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.Log(ctx, Entry{
		ID:           "phi-1",
		UserID:       "dr-wang",
		Action:       ActionResearchQuery,
		QueryContent: "patient A123456789 on warfarin, contact 0912345678",
	}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	got, err := store.GetByID(ctx, "phi-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	if strings.Contains(got.QueryContent, "A123456789") {
		t.Errorf("national ID leaked into audit log: %q", got.QueryContent)
	}
	if strings.Contains(got.QueryContent, "0912345678") {
		t.Errorf("phone number leaked into audit log: %q", got.QueryContent)
	}
	if !strings.Contains(got.QueryContent, "warfarin") {
		t.Errorf("clinical content was over-scrubbed: %q", got.QueryContent)
	}
}

func TestQueryFilters(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i, e := range []Entry{
		{ID: "a", UserID: "u1", Action: ActionResearchQuery},
		{ID: "b", UserID: "u1", Action: ActionInteractionCheck},
		{ID: "c", UserID: "u2", Action: ActionResearchQuery},
	} {
		e.Timestamp = time.Date(2026, 1, 1, 10, i, 0, 0, time.UTC)
		if err := store.Log(ctx, e); err != nil {
			t.Fatalf("Log %s: %v", e.ID, err)
		}
	}

	entries, err := store.Query(ctx, QueryFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("Query by user: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("user filter: got %d entries, want 2", len(entries))
	}

	entries, err = store.Query(ctx, QueryFilter{Action: ActionInteractionCheck})
	if err != nil {
		t.Fatalf("Query by action: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "b" {
		t.Errorf("action filter: got %v", entries)
	}

	since := time.Date(2026, 1, 1, 10, 1, 30, 0, time.UTC)
	entries, err = store.Query(ctx, QueryFilter{Since: &since})
	if err != nil {
		t.Fatalf("Query since: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "c" {
		t.Errorf("since filter: got %v", entries)
	}
}

func TestQueryOrderAndLimit(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Log(ctx, Entry{
			UserID:    "u1",
			Action:    ActionResearchQuery,
			Timestamp: time.Date(2026, 1, 1, 10, i, 0, 0, time.UTC),
		}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	entries, err := store.Query(ctx, QueryFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if !entries[0].Timestamp.After(entries[1].Timestamp) {
		t.Error("entries not ordered newest first")
	}
}

func TestDeleteBefore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	old := Entry{ID: "old", UserID: "u1", Action: ActionResearchQuery,
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	recent := Entry{ID: "recent", UserID: "u1", Action: ActionResearchQuery,
		Timestamp: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}

	for _, e := range []Entry{old, recent} {
		if err := store.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	n, err := store.DeleteBefore(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}

	if _, err := store.GetByID(ctx, "recent"); err != nil {
		t.Errorf("recent entry should survive: %v", err)
	}
}
