package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/AndrewLee0430/medinotes/internal/audit"
	"github.com/AndrewLee0430/medinotes/internal/history"
	"github.com/AndrewLee0430/medinotes/internal/phi"
	"github.com/AndrewLee0430/medinotes/internal/rag"
	"github.com/AndrewLee0430/medinotes/internal/retrieval"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"service": "medinotes",
		"features": map[string]bool{
			"research":     s.retriever != nil && s.generator != nil,
			"verify":       s.verifier != nil,
			"consultation": s.generator != nil,
			"feedback":     s.feedback != nil,
			"history":      s.histStore != nil,
		},
	}
	if s.know != nil {
		status["knowledge_base"] = s.know.GetStats()
	}
	writeJSON(w, http.StatusOK, status)
}

// researchRequest is the POST /api/research body.
type researchRequest struct {
	Question   string   `json:"question" validate:"required,min=2,max=1000"`
	MaxResults int      `json:"max_results" validate:"gte=0,lte=10"`
	Sources    []string `json:"sources" validate:"dive,oneof=local pubmed fda"`
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	// The question is checked before any external call is made.
	if category, found := phi.Detect(req.Question); found {
		writePHIRejection(w, category)
		return
	}

	maxResults := req.MaxResults
	if maxResults == 0 {
		maxResults = s.cfg.MaxResults
	}
	var filter []retrieval.SourceType
	for _, src := range req.Sources {
		filter = append(filter, retrieval.SourceType(src))
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	ctx := r.Context()
	docs := s.retriever.Retrieve(ctx, req.Question, maxResults, filter)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var answer []byte
	err := s.generator.GenerateStream(ctx, req.Question, docs, func(event rag.StreamEvent) error {
		if event.Type == rag.EventAnswer {
			answer = append(answer, event.Content...)
		}
		return writeSSE(w, flusher, event)
	})
	if err != nil {
		// The connection is gone or mid-stream writes failed;
		// nothing more can be sent.
		log.Printf("server: research stream: %v", err)
	}

	s.persistResearch(r, req.Question, string(answer), docs)
}

// persistResearch writes the audit and history records for a research
// query. Best-effort.
func (s *Server) persistResearch(r *http.Request, question, answer string, docs []retrieval.Document) {
	ctx := r.Context()
	user := userID(r)

	resourceIDs := make([]string, len(docs))
	for i, d := range docs {
		resourceIDs[i] = d.SourceID
	}

	if s.auditLog != nil {
		err := s.auditLog.Log(ctx, audit.Entry{
			UserID:       user,
			Action:       audit.ActionResearchQuery,
			QueryContent: question,
			ResourceIDs:  resourceIDs,
			IPAddress:    r.RemoteAddr,
		})
		if err != nil {
			log.Printf("server: audit log: %v", err)
		}
	}

	if s.histStore != nil && answer != "" {
		_, err := s.histStore.Add(ctx, history.Record{
			UserID:      user,
			SessionType: history.SessionResearch,
			Question:    phi.SanitizeForLog(question),
			Answer:      answer,
		})
		if err != nil {
			log.Printf("server: history save: %v", err)
		}
	}
}

// defaultSuggestions is the fixed clinician question list.
var defaultSuggestions = []string{
	"Metformin 的常見副作用有哪些？",
	"Warfarin 和哪些藥物有交互作用？",
	"老年患者使用 NSAIDs 需要注意什麼？",
	"糖尿病患者的用藥注意事項？",
	"ACE inhibitors 的禁忌症是什麼？",
	"Statins 類藥物的肝功能監測建議？",
	"懷孕期間可以使用哪些止痛藥？",
	"腎功能不全患者的劑量調整原則？",
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": defaultSuggestions})
}

// verifyRequest is the POST /api/verify body.
type verifyRequest struct {
	Drugs          []string `json:"drugs" validate:"required,min=2,max=10,dive,required"`
	PatientContext string   `json:"patient_context"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	result := s.verifier.Check(r.Context(), userID(r), req.Drugs, req.PatientContext)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConsultation(w http.ResponseWriter, r *http.Request) {
	var visit rag.Visit
	if !s.decodeAndValidate(w, r, &visit) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	err := s.generator.SummarizeVisitStream(r.Context(), visit, func(delta string) error {
		return writeSSE(w, flusher, rag.StreamEvent{Type: rag.EventAnswer, Content: delta})
	})
	if err != nil {
		log.Printf("server: consultation stream: %v", err)
	} else {
		_ = writeSSE(w, flusher, rag.StreamEvent{Type: rag.EventDone})
	}

	if s.auditLog != nil {
		logErr := s.auditLog.Log(r.Context(), audit.Entry{
			UserID:       userID(r),
			Action:       audit.ActionConsultation,
			QueryContent: "Generated consultation note summary",
			IPAddress:    r.RemoteAddr,
		})
		if logErr != nil {
			log.Printf("server: audit log: %v", logErr)
		}
	}
}

// feedbackRequest is the POST /api/feedback body.
type feedbackRequest struct {
	Query        string `json:"query" validate:"required"`
	Response     string `json:"response" validate:"required"`
	Rating       int    `json:"rating" validate:"required,min=1,max=5"`
	FeedbackText string `json:"feedback_text"`
	Category     string `json:"category" validate:"omitempty,oneof=accuracy completeness citation other"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	id, err := s.feedback.Add(r.Context(), history.Feedback{
		UserID:       userID(r),
		Query:        phi.SanitizeForLog(req.Query),
		Response:     req.Response,
		Rating:       req.Rating,
		FeedbackText: phi.SanitizeForLog(req.FeedbackText),
		Category:     history.FeedbackCategory(req.Category),
	})
	if err != nil {
		log.Printf("server: feedback save: %v", err)
		writeError(w, http.StatusInternalServerError, "storage_failed", "could not save feedback")
		return
	}

	if s.auditLog != nil {
		logErr := s.auditLog.Log(r.Context(), audit.Entry{
			UserID:       userID(r),
			Action:       audit.ActionFeedback,
			QueryContent: req.Query,
			ResourceIDs:  []string{id},
			IPAddress:    r.RemoteAddr,
		})
		if logErr != nil {
			log.Printf("server: audit log: %v", logErr)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "created"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	sessionType := history.SessionType(r.URL.Query().Get("session_type"))

	records, err := s.histStore.Recent(r.Context(), userID(r), sessionType, limit)
	if err != nil {
		log.Printf("server: history query: %v", err)
		writeError(w, http.StatusInternalServerError, "storage_failed", "could not load history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// writeSSE writes one server-sent event and flushes it.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
