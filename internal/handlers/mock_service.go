package handlers

import (
	"context"
	"net/http"
	"time"

	"smartfilterpro/internal/models"
	"smartfilterpro/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockTelemetry struct {
	state        models.HvacState
	stateErr     error
	sendNowErr   error
	sendNowCalls int
	events       chan models.CycleEvent
}

func newMockTelemetry() *mockTelemetry {
	return &mockTelemetry{events: make(chan models.CycleEvent, 8)}
}

func (m *mockTelemetry) Run(ctx context.Context) error  { return nil }
func (m *mockTelemetry) Ingest() chan<- models.Snapshot { return nil }
func (m *mockTelemetry) State(ctx context.Context) (models.HvacState, error) {
	return m.state, m.stateErr
}
func (m *mockTelemetry) SendNow(ctx context.Context) error {
	m.sendNowCalls++
	return m.sendNowErr
}
func (m *mockTelemetry) Subscribe() (<-chan models.CycleEvent, func()) {
	return m.events, func() {}
}

type mockStatus struct {
	current      models.FilterStatus
	ok           bool
	refreshErr   error
	resetErr     error
	refreshCalls int
	resetCalls   int
}

func (m *mockStatus) Run(ctx context.Context) {}
func (m *mockStatus) Current() (models.FilterStatus, bool) {
	return m.current, m.ok
}
func (m *mockStatus) RefreshNow(ctx context.Context) error {
	m.refreshCalls++
	return m.refreshErr
}
func (m *mockStatus) Reset(ctx context.Context) error {
	m.resetCalls++
	return m.resetErr
}

type mockEventLog struct {
	resp     []models.CycleEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.CycleEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil, nil)
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
