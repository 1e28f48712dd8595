package insights

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "log/slog"

	"github.com/go-chi/chi/v5"

	"theravox/internal/domain"
	"theravox/internal/health"
	"theravox/internal/ports"
)

const defaultMaxBody = 1 << 20

type Server struct {
	chat     ports.ChatBackend
	provider domain.ProviderID
	maxBody  int64
}

func NewServer(chat ports.ChatBackend, provider domain.ProviderID) *Server {
	return &Server{chat: chat, provider: provider, maxBody: defaultMaxBody}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type analyzeResponse struct {
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Trends  Trends   `json:"trends"`
	Choices []choice `json:"choices"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "provider": s.provider})
	})
	r.Post("/analyze", s.analyze)
	return r
}

func (s *Server) analyze(w http.ResponseWriter, req *http.Request) {
	var in health.AnalyzeRequest
	if err := decodeJSONBody(req, s.maxBody, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if len(in.HeartRate) == 0 || len(in.Sleep) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Both 'heart_rate' and 'sleep' data are required."})
		return
	}

	trends := Analyze(in)
	start := time.Now()
	content, err := s.chat.Summarize(req.Context(), Prompt(trends), s.provider)
	if err != nil {
		log.Error("Insights analysis failed", "provider", s.provider, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "kind": domain.KindOf(err)})
		return
	}
	log.Info("Insights analysis", "heart_rate", trends.HeartRate, "sleep", trends.Sleep, "elapsed", time.Since(start))

	writeJSON(w, http.StatusOK, analyzeResponse{
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Trends:  trends,
		Choices: []choice{{
			Message:      message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	})
}

func decodeJSONBody(req *http.Request, maxBytes int64, out any) error {
	defer req.Body.Close()
	data, err := io.ReadAll(io.LimitReader(req.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return fmt.Errorf("request body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
