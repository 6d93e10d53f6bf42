// Package main implements a mock completion server for offline pipeline runs.
// It serves canned phase outputs from JSON fixture files on both the
// OpenAI-compatible /v1/chat/completions endpoint and the Anthropic-compatible
// /v1/messages endpoint, so either configured provider can run the full
// filing pipeline without a real completion service: fast, deterministic,
// and offline-capable.
//
// Usage:
//
//	mock-completions -fixtures /path/to/fixtures -port 11434
//
// The pipeline sends every phase to a single model, so fixtures are routed
// by TASK rather than by model name. The task is inferred from the system
// prompt of the incoming request (each phase handler identifies its role in
// the first sentence). Fixture files are JSON named by task (e.g.,
// "quality_grade.json" answers the grading phase).
//
// Sequential fixtures: if numbered files exist (e.g., "quality_grade.1.json",
// "quality_grade.2.json"), the Nth call for that task returns the Nth
// fixture. After exhausting numbered fixtures, the base "quality_grade.json"
// is used as a repeating fallback. This enables scripting grade→revise→pass
// loops against the revision engine.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// --- OpenAI-compatible types ---

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

// --- Anthropic-compatible types ---

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
	System    string        `json:"system,omitempty"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Task routing ---

// taskMarkers maps a distinctive phrase from each phase handler's system
// prompt to its task name. Order matters: the revision prompt also opens
// with "senior litigation drafter", so its longer marker is checked first.
var taskMarkers = []struct {
	phrase string
	task   string
}{
	{"revising a draft", "revision"},
	{"senior litigation drafter", "drafting"},
	{"litigation intake analyst", "intake_analysis"},
	{"court-rules specialist", "jurisdiction_review"},
	{"legal research attorney", "authority_research"},
	{"litigation support analyst", "evidence_mapping"},
	{"opposition strategist", "counter_analysis"},
	{"citation editor", "citation_check"},
	{"reviewing partner", "quality_grade"},
	{"filing clerk", "assembly"},
	{"final approval package", "final_approval"},
}

// inferTask resolves the pipeline task from the system prompt text.
func inferTask(system string) string {
	for _, m := range taskMarkers {
		if strings.Contains(system, m.phrase) {
			return m.task
		}
	}
	return ""
}

// --- Server ---

// capturedRequest stores the key fields of an incoming completion request
// for test verification via the /requests endpoint.
type capturedRequest struct {
	Task      string        `json:"task"`
	Model     string        `json:"model"`
	System    string        `json:"system"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"` // 1-indexed per-task call number
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	fixtures map[string][]string // task → ordered fixture contents (sequential)
	calls    atomic.Int64        // total calls served

	// Per-task call counters for sequential fixture selection.
	taskCalls   map[string]*atomic.Int64
	taskCallsMu sync.Mutex // protects lazy init of taskCalls entries

	// Per-task request capture for prompt verification in pipeline tests.
	taskRequests   map[string][]capturedRequest
	taskRequestsMu sync.Mutex
}

func newServer(fixtures map[string][]string) *server {
	return &server{
		fixtures:     fixtures,
		taskCalls:    make(map[string]*atomic.Int64),
		taskRequests: make(map[string][]capturedRequest),
	}
}

func (s *server) captureRequest(task, model, system string, messages []chatMessage, callIndex int) {
	s.taskRequestsMu.Lock()
	defer s.taskRequestsMu.Unlock()
	s.taskRequests[task] = append(s.taskRequests[task], capturedRequest{
		Task:      task,
		Model:     model,
		System:    system,
		Messages:  messages,
		CallIndex: callIndex,
		Timestamp: time.Now().UnixMilli(),
	})
}

// getTaskCounter returns the call counter for a task, creating it lazily.
func (s *server) getTaskCounter(task string) *atomic.Int64 {
	s.taskCallsMu.Lock()
	defer s.taskCallsMu.Unlock()
	if c, ok := s.taskCalls[task]; ok {
		return c
	}
	c := &atomic.Int64{}
	s.taskCalls[task] = c
	return c
}

// serve resolves the fixture for a task, bumps counters, and captures the
// request. Returns the fixture content and the 1-indexed call number, or an
// error when no fixture covers the task.
func (s *server) serve(task, model, system string, messages []chatMessage) (string, int, error) {
	seq, ok := s.fixtures[task]
	if !ok {
		return "", 0, fmt.Errorf("no fixture for task %q", task)
	}

	counter := s.getTaskCounter(task)
	callIndex := int(counter.Add(1) - 1) // 0-indexed

	s.captureRequest(task, model, system, messages, callIndex+1)

	var content string
	if callIndex < len(seq) {
		content = seq[callIndex]
	} else {
		content = seq[len(seq)-1] // repeat last fixture
	}
	return content, callIndex + 1, nil
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	flag.Parse()

	// Allow env var override
	if envDir := os.Getenv("MOCK_COMPLETIONS_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		log.Fatalf("Failed to load fixtures from %s: %v", *fixtureDir, err)
	}
	log.Printf("Loaded %d task(s) from %s", len(fixtures), *fixtureDir)
	for task, seq := range fixtures {
		log.Printf("  task: %s (%d fixture(s))", task, len(seq))
	}

	s := newServer(fixtures)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/messages", s.handleMessages)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock completion server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChatCompletions serves the OpenAI-compatible endpoint. The system
// prompt travels as the first message with role "system".
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	var system string
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = msg.Content
			break
		}
	}

	callNum := s.calls.Add(1)
	task := inferTask(system)
	if task == "" {
		log.Printf("[call %d] WARNING: could not infer task from system prompt", callNum)
		http.Error(w, "could not infer task from system prompt", http.StatusNotFound)
		return
	}

	content, callIndex, err := s.serve(task, req.Model, system, req.Messages)
	if err != nil {
		log.Printf("[call %d] WARNING: %v", callNum, err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	log.Printf("[call %d] task=%s call_index=%d", callNum, task, callIndex)

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{
			{
				Index: 0,
				Message: chatMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{
			PromptTokens:     len(content) / 4, // rough estimate
			CompletionTokens: len(content) / 4,
			TotalTokens:      len(content) / 2,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleMessages serves the Anthropic-compatible endpoint. The system
// prompt travels as a top-level request field.
func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req messagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	task := inferTask(req.System)
	if task == "" {
		log.Printf("[call %d] WARNING: could not infer task from system prompt", callNum)
		http.Error(w, "could not infer task from system prompt", http.StatusNotFound)
		return
	}

	content, callIndex, err := s.serve(task, req.Model, req.System, req.Messages)
	if err != nil {
		log.Printf("[call %d] WARNING: %v", callNum, err)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	log.Printf("[call %d] task=%s call_index=%d", callNum, task, callIndex)

	resp := messagesResponse{
		ID:         fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Type:       "message",
		Role:       "assistant",
		Content:    []contentBlock{{Type: "text", Text: content}},
		Model:      req.Model,
		StopReason: "end_turn",
		Usage: anthropicUsage{
			InputTokens:  len(content) / 4,
			OutputTokens: len(content) / 4,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStats returns call counts for test assertions.
// Returns total_calls and a per-task calls_by_task breakdown.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.taskCallsMu.Lock()
	callsByTask := make(map[string]int64, len(s.taskCalls))
	for task, counter := range s.taskCalls {
		callsByTask[task] = counter.Load()
	}
	s.taskCallsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":   s.calls.Load(),
		"calls_by_task": callsByTask,
	})
}

// handleRequests returns captured request bodies for test assertions.
// Query params:
//   - task: filter by task name (optional, returns all tasks if omitted)
//   - call: filter by call index, 1-indexed (optional)
//
// Returns {"requests_by_task": {"quality_grade": [...], ...}}
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	taskFilter := r.URL.Query().Get("task")
	callFilter := r.URL.Query().Get("call")

	s.taskRequestsMu.Lock()
	result := make(map[string][]capturedRequest)
	for task, reqs := range s.taskRequests {
		if taskFilter != "" && task != taskFilter {
			continue
		}
		if callFilter != "" {
			callIdx, err := strconv.Atoi(callFilter)
			if err == nil {
				for _, req := range reqs {
					if req.CallIndex == callIdx {
						result[task] = append(result[task], req)
					}
				}
				continue
			}
		}
		result[task] = reqs
	}
	s.taskRequestsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"requests_by_task": result,
	})
}

// numberedFileRe matches files like "quality_grade.1.json", "revision.2.json".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// loadFixtures reads JSON files from dir and returns a map of task→content
// sequence.
//
// For each task, fixtures are ordered:
//  1. Numbered files (task.1.json, task.2.json, ...) in numeric order
//  2. Base file (task.json) appended as the final fallback
//
// If only task.json exists, the sequence has one entry.
func loadFixtures(dir string) (map[string][]string, error) {
	baseFiles := make(map[string]string)             // task → content
	numberedFiles := make(map[string]map[int]string) // task → {index → content}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		if !json.Valid(data) {
			return fmt.Errorf("invalid JSON in %s", path)
		}

		content := string(data)

		if matches := numberedFileRe.FindStringSubmatch(info.Name()); matches != nil {
			task := matches[1]
			index, _ := strconv.Atoi(matches[2])
			if numberedFiles[task] == nil {
				numberedFiles[task] = make(map[int]string)
			}
			numberedFiles[task][index] = content
			return nil
		}

		task := strings.TrimSuffix(info.Name(), ".json")
		baseFiles[task] = content
		return nil
	})

	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]string)

	allTasks := make(map[string]bool)
	for t := range baseFiles {
		allTasks[t] = true
	}
	for t := range numberedFiles {
		allTasks[t] = true
	}

	for task := range allTasks {
		var seq []string

		if numbered, ok := numberedFiles[task]; ok {
			indices := make([]int, 0, len(numbered))
			for idx := range numbered {
				indices = append(indices, idx)
			}
			sort.Ints(indices)

			for _, idx := range indices {
				seq = append(seq, numbered[idx])
			}
		}

		if base, ok := baseFiles[task]; ok {
			seq = append(seq, base)
		}

		if len(seq) > 0 {
			fixtures[task] = seq
		}
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}

	return fixtures, nil
}
