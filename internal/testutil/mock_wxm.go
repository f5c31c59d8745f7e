// Package testutil provides a mock WeatherXM API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Mock credentials accepted by the login endpoint.
const (
	Username = "station-owner"
	Password = "hunter2"
	DeviceID = "dev-1"
)

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockWXM is a configurable mock WeatherXM server.
//
// By default it serves POST /auth/login, GET /me/devices and
// GET /me/devices/{id}/history. History responses contain one hourly
// observation per full hour in [fromDate, toDate).
type MockWXM struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	tokenSeq  int
	token     string
	historyQ  []MockResponse
	remaining int

	// Tracking
	RequestCount      int
	LoginCount        int
	HistoryCount      int
	HistoryWindows    [][2]time.Time
	LastRequestHeader http.Header
}

// NewMockWXM creates and starts a mock server.
func NewMockWXM() *MockWXM {
	mock := &MockWXM{
		handlers:  make(map[string]http.HandlerFunc),
		remaining: 100,
	}
	mock.token = mock.issueToken()

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the API root of the mock server.
func (m *MockWXM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockWXM) Close() {
	m.server.Close()
}

// Token returns the currently valid bearer token.
func (m *MockWXM) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// ExpireToken invalidates the current token. The next history request
// with it receives 401 until a new login.
func (m *MockWXM) ExpireToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
}

// QueueHistory makes the next history requests return resps in order,
// before normal serving resumes.
func (m *MockWXM) QueueHistory(resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyQ = append(m.historyQ, resps...)
}

// SetRemaining sets the X-RateLimit-Remaining value sent with history responses.
func (m *MockWXM) SetRemaining(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = n
}

// SetHandler overrides the handler for a path.
func (m *MockWXM) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockWXM) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// GetHistoryCount returns the number of history requests served.
func (m *MockWXM) GetHistoryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.HistoryCount
}

// GetLoginCount returns the number of login requests served.
func (m *MockWXM) GetLoginCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoginCount
}

func (m *MockWXM) defaultHandler(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/login":
		m.handleLogin(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/me/devices":
		if !m.authorized(r) {
			writeResponse(w, NewUnauthorizedResponse())
			return
		}
		writeJSON(w, http.StatusOK, []map[string]string{
			{"id": DeviceID, "name": "Backyard", "label": "WXM-001"},
		})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/me/devices/") && strings.HasSuffix(r.URL.Path, "/history"):
		m.handleHistory(w, r)
	default:
		writeResponse(w, MockResponse{StatusCode: http.StatusNotFound, Body: `{"error":"not found"}`})
	}
}

func (m *MockWXM) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeResponse(w, MockResponse{StatusCode: http.StatusBadRequest, Body: `{"error":"bad request"}`})
		return
	}

	m.mu.Lock()
	m.LoginCount++
	if creds.Username != Username || creds.Password != Password {
		m.mu.Unlock()
		writeResponse(w, NewUnauthorizedResponse())
		return
	}
	m.token = m.issueToken()
	token := m.token
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"token": token, "refreshToken": "unused"})
}

func (m *MockWXM) handleHistory(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.HistoryCount++
	var queued *MockResponse
	if len(m.historyQ) > 0 {
		queued = &m.historyQ[0]
		m.historyQ = m.historyQ[1:]
	}
	remaining := m.remaining
	m.mu.Unlock()

	w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(remaining))
	w.Header().Set("X-RateLimit-Reset", "60")

	if queued != nil {
		writeResponse(w, *queued)
		return
	}
	if !m.authorized(r) {
		writeResponse(w, NewUnauthorizedResponse())
		return
	}

	q := r.URL.Query()
	from, err1 := time.Parse(time.RFC3339, q.Get("fromDate"))
	to, err2 := time.Parse(time.RFC3339, q.Get("toDate"))
	if err1 != nil || err2 != nil {
		writeResponse(w, MockResponse{StatusCode: http.StatusBadRequest, Body: `{"error":"bad dates"}`})
		return
	}

	m.mu.Lock()
	m.HistoryWindows = append(m.HistoryWindows, [2]time.Time{from, to})
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, HistoryPage(from, to))
}

func (m *MockWXM) authorized(r *http.Request) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != "" && r.Header.Get("Authorization") == "Bearer "+m.token
}

// issueToken must be called with mu held or before the server starts.
func (m *MockWXM) issueToken() string {
	m.tokenSeq++
	return fmt.Sprintf("mock-token-%d", m.tokenSeq)
}

// HistoryPage builds a list-shaped history body with one hourly entry per
// full hour in [from, to). Temperature equals the hour of day.
func HistoryPage(from, to time.Time) []map[string]interface{} {
	hourly := []map[string]interface{}{}
	t := from.UTC().Truncate(time.Hour)
	if t.Before(from) {
		t = t.Add(time.Hour)
	}
	for ; t.Before(to); t = t.Add(time.Hour) {
		hourly = append(hourly, map[string]interface{}{
			"timestamp":     t.Format(time.RFC3339),
			"temperature":   float64(t.Hour()),
			"humidity":      60.0,
			"wind_speed":    2.5,
			"precipitation": 0.0,
			"pressure":      1013.0,
		})
	}
	return []map[string]interface{}{{"hourly": hourly}}
}

// NewUnauthorizedResponse creates a 401 response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"code":"Unauthorized","message":"token expired"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 response asking for a one second pause.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":"rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type":          "application/json",
			"X-RateLimit-Remaining": "0",
			"X-RateLimit-Reset":     "1",
			"Retry-After":           "1",
		},
	}
}

// NewMalformedResponse creates a 200 response with an unrecognized body.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `"not a history page"`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
