// Package mockapi serves a minimal stand-in for the two upstream services the
// enricher talks to: Google Sheets CSV/XLSX exports and the Gemini
// generateContent endpoint.
package mockapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Person is a canned lookup answer.
type Person struct {
	City     string `json:"city"`
	JobTitle string `json:"job_title"`
}

// Server implements the mock API surface.
type Server struct {
	sheetDir string

	mu      sync.Mutex
	calls   []Call
	private map[string]bool

	apiKey string
	people map[string]Person

	// quota is the number of generateContent calls answered before every
	// further call is rate limited. Negative means unlimited.
	quota     int
	generated int
}

// New constructs a mock server serving sheets named <id>.csv / <id>.xlsx from sheetDir.
func New(sheetDir string) *Server {
	return &Server{
		sheetDir: sheetDir,
		private:  make(map[string]bool),
		people:   make(map[string]Person),
		quota:    -1,
	}
}

// RequireAPIKey makes generateContent reject any other key. Empty disables the check.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
}

// AddPerson registers the answer for a full name. Unknown people are "Not Found".
func (s *Server) AddPerson(name string, p Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people[normName(name)] = p
}

// SetQuota allows n more generateContent calls before answering 429. Negative is unlimited.
func (s *Server) SetQuota(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quota = n
	s.generated = 0
}

// MarkPrivate makes the sheet answer with a sign-in page, as an unpublished sheet does.
func (s *Server) MarkPrivate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.private[id] = true
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/spreadsheets/d/", s.handleSheets)
	mux.HandleFunc("/v1beta/models/", s.handleModels)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
}

func (s *Server) handleSheets(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)

	// /spreadsheets/d/{id}/export?format=csv|xlsx
	rest := strings.TrimPrefix(r.URL.Path, "/spreadsheets/d/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "export" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := parts[0]
	if !isSafeToken(id) {
		http.Error(w, "invalid sheet id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	private := s.private[id]
	s.mu.Unlock()
	if private {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<html><body>Sign in to continue</body></html>")
		return
	}

	format := r.URL.Query().Get("format")
	contentType := "text/csv"
	switch format {
	case "", "csv":
		format = "csv"
	case "xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		http.Error(w, "unsupported format", http.StatusBadRequest)
		return
	}

	b, err := os.ReadFile(filepath.Join(s.sheetDir, id+"."+format))
	if err != nil {
		http.Error(w, fmt.Sprintf("read sheet: %v", err), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(b)
}

type generateReq struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

// personLine matches one line of the lookup prompt.
var personLine = regexp.MustCompile(`(?m)^- id=(\d+) name="((?:[^"\\]|\\.)*)"`)

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)

	// /v1beta/models/{model}:generateContent
	if !strings.HasSuffix(r.URL.Path, ":generateContent") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.Header.Get("x-goog-api-key")
	if key == "" {
		key = r.URL.Query().Get("key")
	}

	s.mu.Lock()
	expected := s.apiKey
	limited := s.quota >= 0 && s.generated >= s.quota
	if !limited && (expected == "" || key == expected) {
		s.generated++
	}
	s.mu.Unlock()

	if expected != "" && key != expected {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "API key not valid. Please pass a valid API key.", "API_KEY_INVALID")
		return
	}
	if limited {
		writeAPIError(w, http.StatusTooManyRequests, "RESOURCE_EXHAUSTED", "Resource has been exhausted (e.g. check quota).", "")
		return
	}

	var req generateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON payload", "")
		return
	}
	var prompt strings.Builder
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			prompt.WriteString(p.Text)
			prompt.WriteString("\n")
		}
	}

	type result struct {
		ID       int    `json:"id"`
		City     string `json:"city"`
		JobTitle string `json:"job_title"`
	}
	results := []result{}
	for _, m := range personLine.FindAllStringSubmatch(prompt.String(), -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		name, err := strconv.Unquote(`"` + m[2] + `"`)
		if err != nil {
			name = m[2]
		}
		s.mu.Lock()
		p, ok := s.people[normName(name)]
		s.mu.Unlock()
		if !ok {
			results = append(results, result{ID: id, City: "Not Found"})
			continue
		}
		results = append(results, result{ID: id, City: p.City, JobTitle: p.JobTitle})
	}
	text, _ := json.Marshal(map[string]any{"results": results})

	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": string(text)}},
				},
				"finishReason": "STOP",
			},
		},
	})
}

func writeAPIError(w http.ResponseWriter, code int, status, message, reason string) {
	body := map[string]any{
		"code":    code,
		"message": message,
		"status":  status,
	}
	if reason != "" {
		body["details"] = []any{map[string]any{
			"@type":  "type.googleapis.com/google.rpc.ErrorInfo",
			"reason": reason,
			"domain": "googleapis.com",
		}}
	}
	writeJSON(w, code, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func normName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func isSafeToken(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}
