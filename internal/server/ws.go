package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/AndrewLee0430/medinotes/internal/phi"
	"github.com/AndrewLee0430/medinotes/internal/rag"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsRequest is the incoming WebSocket message format.
type wsRequest struct {
	Question   string `json:"question"`
	MaxResults int    `json:"max_results"`
}

// handleResearchWS serves the research pipeline over a WebSocket: one
// question per message, answered with the same event sequence as the
// SSE endpoint.
func (s *Server) handleResearchWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("server: websocket read: %v", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.sendWSError(conn, "invalid message format")
			continue
		}
		if req.Question == "" {
			s.sendWSError(conn, "question is required")
			continue
		}
		if category, found := phi.Detect(req.Question); found {
			_ = conn.WriteJSON(map[string]string{
				"type":     "error",
				"error":    "phi_detected",
				"category": category,
			})
			continue
		}

		maxResults := req.MaxResults
		if maxResults <= 0 {
			maxResults = s.cfg.MaxResults
		}

		ctx := r.Context()
		docs := s.retriever.Retrieve(ctx, req.Question, maxResults, nil)

		var answer []byte
		streamErr := s.generator.GenerateStream(ctx, req.Question, docs, func(event rag.StreamEvent) error {
			if event.Type == rag.EventAnswer {
				answer = append(answer, event.Content...)
			}
			return conn.WriteJSON(event)
		})
		if streamErr != nil {
			log.Printf("server: websocket stream: %v", streamErr)
			return
		}

		s.persistResearch(r, req.Question, string(answer), docs)
	}
}

func (s *Server) sendWSError(conn *websocket.Conn, message string) {
	err := conn.WriteJSON(rag.StreamEvent{Type: rag.EventError, Content: message})
	if err != nil {
		log.Printf("server: websocket write: %v", err)
	}
}
