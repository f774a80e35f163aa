package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OpenAI-compatible wire types.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// capturedRequest is kept for /requests.
type capturedRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"` // 1-based, per model
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	fixtures map[string][]string
	logger   *slog.Logger

	calls         atomic.Int64
	rejectReviews int64
	reviews       atomic.Int64

	mu       sync.Mutex
	perModel map[string]int
	requests map[string][]capturedRequest
}

func newServer(fixtures map[string][]string, rejectReviews int, logger *slog.Logger) *server {
	return &server{
		fixtures:      fixtures,
		logger:        logger,
		rejectReviews: int64(rejectReviews),
		perModel:      make(map[string]int),
		requests:      make(map[string][]capturedRequest),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /requests", s.handleRequests)
	return mux
}

// record counts a call for model and captures it. It returns the 0-based
// per-model call index.
func (s *server) record(req chatRequest) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.perModel[req.Model]
	s.perModel[req.Model] = idx + 1
	s.requests[req.Model] = append(s.requests[req.Model], capturedRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		CallIndex: idx + 1,
		Timestamp: time.Now().UnixMilli(),
	})
	return idx
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	callIndex := s.record(req)

	content, ok := s.reply(req, callIndex)
	if !ok {
		s.logger.Warn("No fixture for model", "call", callNum, "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}
	s.logger.Debug("Serving completion",
		"call", callNum,
		"model", req.Model,
		"call_index", callIndex+1,
		"bytes", len(content))

	writeJSON(w, chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     promptLength(req) / 4,
			CompletionTokens: len(content) / 4,
			TotalTokens:      (promptLength(req) + len(content)) / 4,
		},
	})
}

// reply picks the fixture for the call, falling back to generated verdicts
// for rubric prompts.
func (s *server) reply(req chatRequest, callIndex int) (string, bool) {
	seq, ok := s.fixtures[req.Model]
	if !ok {
		seq, ok = s.fixtures[strings.TrimPrefix(req.Model, "mock-")]
	}
	if ok {
		return seq[min(callIndex, len(seq)-1)], true
	}

	criteria := rubricCriteria(req)
	if len(criteria) == 0 {
		return "", false
	}
	reject := s.reviews.Add(1) <= s.rejectReviews
	return verdictReply(criteria, reject), true
}

func promptLength(req chatRequest) int {
	n := 0
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	return n
}

// criterionLineRe matches "- id: description" lines of a rubric prompt.
var criterionLineRe = regexp.MustCompile(`^\s*-\s+([a-z_]+(?::[a-z-]+)?):\s`)

// rubricCriteria returns the criterion IDs listed in the system prompt.
func rubricCriteria(req chatRequest) []string {
	var ids []string
	for _, m := range req.Messages {
		if m.Role != "system" || !strings.Contains(m.Content, "Criteria:") {
			continue
		}
		for _, line := range strings.Split(m.Content, "\n") {
			if match := criterionLineRe.FindStringSubmatch(line); match != nil {
				ids = append(ids, match[1])
			}
		}
	}
	return ids
}

type verdict struct {
	Criterion     string `json:"criterion"`
	Pass          bool   `json:"pass"`
	Rationale     string `json:"rationale"`
	SuggestedEdit string `json:"suggested_edit,omitempty"`
}

func verdictReply(criteria []string, reject bool) string {
	out := struct {
		Verdicts []verdict `json:"verdicts"`
	}{}
	for i, id := range criteria {
		v := verdict{Criterion: id, Pass: true, Rationale: "meets the criterion"}
		if reject && i == 0 {
			v.Pass = false
			v.Rationale = "scripted rejection"
			v.SuggestedEdit = "sharpen the conflict so neither choice is clearly preferable"
		}
		out.Verdicts = append(out.Verdicts, v)
	}
	data, _ := json.Marshal(out)
	return string(data)
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	names := make([]string, 0, len(s.fixtures))
	for name := range s.fixtures {
		names = append(names, name)
	}
	slices.Sort(names)

	models := make([]modelEntry, 0, len(names))
	for _, name := range names {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	writeJSON(w, map[string]any{"object": "list", "data": models})
}

// handleStats returns total and per-model call counts.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	byModel := make(map[string]int, len(s.perModel))
	for model, n := range s.perModel {
		byModel[model] = n
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"total_calls":     s.calls.Load(),
		"generated_votes": s.reviews.Load(),
		"calls_by_model":  byModel,
	})
}

// handleRequests returns captured requests, optionally filtered by ?model=
// and the 1-based ?call= index.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callFilter, _ := strconv.Atoi(r.URL.Query().Get("call"))

	s.mu.Lock()
	result := make(map[string][]capturedRequest)
	for model, reqs := range s.requests {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		for _, req := range reqs {
			if callFilter == 0 || req.CallIndex == callFilter {
				result[model] = append(result[model], req)
			}
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"requests_by_model": result})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// numberedFileRe matches "model.N.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads every JSON file under dir into per-model sequences:
// numbered files in numeric order, then the base file.
func loadFixtures(dir string) (map[string][]string, error) {
	type numbered struct {
		index   int
		content string
	}
	base := make(map[string]string)
	steps := make(map[string][]numbered)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}

		if m := numberedFileRe.FindStringSubmatch(d.Name()); m != nil {
			idx, _ := strconv.Atoi(m[2])
			steps[m[1]] = append(steps[m[1]], numbered{index: idx, content: string(data)})
			return nil
		}
		base[strings.TrimSuffix(d.Name(), ".json")] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]string)
	for model, seq := range steps {
		slices.SortFunc(seq, func(a, b numbered) int { return a.index - b.index })
		for _, n := range seq {
			fixtures[model] = append(fixtures[model], n.content)
		}
	}
	for model, content := range base {
		fixtures[model] = append(fixtures[model], content)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
