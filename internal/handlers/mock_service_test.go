package handlers

import (
	"context"
	"net/http"
	"sync"

	"parking_barrier/internal/models"
	"parking_barrier/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseUser     models.SessionUser
	parseErr      error
	changeErr     error

	lastSignUpEmail    string
	lastSignUpPassword string
	lastGenEmail       string
	lastGenPassword    string
	lastParseToken     string
	lastChange         [3]string
}

func (m *mockAuth) SignUp(email, password string) (int, error) {
	m.lastSignUpEmail = email
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(email, password string) (string, error) {
	m.lastGenEmail = email
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (models.SessionUser, error) {
	m.lastParseToken = token
	return m.parseUser, m.parseErr
}
func (m *mockAuth) ChangePassword(userID, current, next string) error {
	m.lastChange = [3]string{userID, current, next}
	return m.changeErr
}

type mockFeed struct {
	mu     sync.Mutex
	latest models.StatusView
	subs   map[int]func(models.FeedEvent)
	nextID int
}

func (m *mockFeed) Start(context.Context) (*service.FeedHandle, error) { return nil, nil }
func (m *mockFeed) Stop(*service.FeedHandle) {}

func (m *mockFeed) Latest() models.StatusView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

func (m *mockFeed) Subscribe(fn func(models.FeedEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = map[int]func(models.FeedEvent){}
	}
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *mockFeed) emit(e models.FeedEvent) {
	m.mu.Lock()
	fns := make([]func(models.FeedEvent), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

func (m *mockFeed) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

type mockBarrier struct {
	mu         sync.Mutex
	reqID      string
	err        error
	state      models.BarrierCommandState
	lastStatus models.AggregateStatus
	lastUser   *models.SessionUser
	calls      int
	listeners  []func(models.BarrierEvent)
}

func (m *mockBarrier) Trigger(_ context.Context, status models.AggregateStatus, user *models.SessionUser) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastStatus = status
	m.lastUser = user
	return m.reqID, m.err
}

func (m *mockBarrier) State() models.BarrierCommandState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockBarrier) OnEvent(fn func(models.BarrierEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
	return func() {}
}

func (m *mockBarrier) emit(e models.BarrierEvent) {
	m.mu.Lock()
	fns := append(([]func(models.BarrierEvent))(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

type mockAuditLog struct {
	records  []models.AuditRecord
	err      error
	lastUser string
}

func (m *mockAuditLog) History(_ context.Context, userID string) ([]models.AuditRecord, error) {
	m.lastUser = userID
	return m.records, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func withHeaders(req *http.Request, hdr http.Header) *http.Request {
	for k, vv := range hdr {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	return req
}

var testUser = models.SessionUser{ID: "7", Email: "ana@example.com"}
