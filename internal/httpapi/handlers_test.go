package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dialer-platform/internal/agent"
	"dialer-platform/internal/allocation"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/dnc"
	"dialer-platform/internal/events"
	"dialer-platform/internal/rbac"
)

type stubGateway struct {
	mu  sync.Mutex
	seq int
}

func (g *stubGateway) Originate(ctx context.Context, phoneNumber, callerID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("chan-%d", g.seq), nil
}
func (g *stubGateway) Bridge(ctx context.Context, a, b string) error      { return nil }
func (g *stubGateway) Hangup(ctx context.Context, channelID string) error { return nil }
func (g *stubGateway) StopRecording(ctx context.Context, ref string) error { return nil }

func (g *stubGateway) StartRecording(ctx context.Context, ch string) (string, error) {
	return "rec-" + ch, nil
}

type testAPI struct {
	router      *gin.Engine
	engine      *dialer.Manager
	agents      *agent.MemoryRepo
	allocations *allocation.MemoryRepo
	campaigns   *campaign.MemoryRepo
	dncRepo     *dnc.MemoryRepo
}

// identity injects an authenticated user the way auth.RequireAccessToken
// would, without minting tokens per request.
func identity(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newTestAPI(t *testing.T, userID, role string) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api := &testAPI{
		agents:      agent.NewMemoryRepo(),
		allocations: allocation.NewMemoryRepo(),
		campaigns:   campaign.NewMemoryRepo(),
		dncRepo:     dnc.NewMemoryRepo(),
	}
	registry := campaign.NewRegistry(api.campaigns)
	gate := compliance.NewGate(api.dncRepo, time.UTC, 0, 24)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	api.engine = dialer.NewManager(dialer.ManagerDeps{
		Attempts:    dialer.NewMemoryAttemptRepo(),
		Allocations: api.allocations,
		Agents:      api.agents,
		Registry:    registry,
		Gate:        gate,
		Gateway:     &stubGateway{},
		Publisher:   &events.MemoryPublisher{},
		Logger:      logger,
	})

	h := Handlers{Dialer: api.engine, Agents: api.agents, Dnc: api.dncRepo}

	r := gin.New()
	r.GET("/healthz", h.Health)
	v1 := r.Group("/v1")
	v1.Use(identity(userID, role))
	{
		v1.POST("/campaigns/:id/start", rbac.RequireAnyRole(rbac.RoleSupervisor, rbac.RoleAdmin), h.StartCampaign)
		v1.POST("/campaigns/:id/stop", rbac.RequireAnyRole(rbac.RoleSupervisor, rbac.RoleAdmin), h.StopCampaign)
		v1.GET("/campaigns/:id/status", h.CampaignStatus)
		v1.POST("/dialer/call-next", rbac.RequireAnyRole(rbac.RoleAgent), h.CallNext)
		v1.POST("/calls/:id/end", h.EndCall)
		v1.POST("/calls/:id/abandon", h.AbandonCall)
		v1.POST("/agents/status", rbac.RequireAnyRole(rbac.RoleAgent), h.SetAgentStatus)
		v1.POST("/dnc", rbac.RequireAnyRole(rbac.RoleAdmin), h.AddDnc)
		v1.GET("/dnc/:number", h.CheckDnc)
	}
	api.router = r
	return api
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) seedCampaign(t *testing.T, id string) {
	t.Helper()
	a.campaigns.Put(campaign.Campaign{
		ID:              id,
		Name:            "recoveries",
		DialMode:        campaign.DialModeProgressive,
		CallerID:        "18005550000",
		TargetOccupancy: 80,
		AbandonCap:      3,
		Active:          true,
	})
}

func TestCampaignStartStopStatus(t *testing.T) {
	api := newTestAPI(t, "sup-1", rbac.RoleSupervisor)
	api.seedCampaign(t, "c1")

	if w := api.do(http.MethodPost, "/v1/campaigns/c1/start", ""); w.Code != http.StatusOK {
		t.Fatalf("start = %d body %s, want 200", w.Code, w.Body.String())
	}
	if w := api.do(http.MethodPost, "/v1/campaigns/c1/start", ""); w.Code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", w.Code)
	}

	w := api.do(http.MethodGet, "/v1/campaigns/c1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var st campaign.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Active {
		t.Fatal("campaign should report active")
	}

	if w := api.do(http.MethodPost, "/v1/campaigns/c1/stop", ""); w.Code != http.StatusOK {
		t.Fatalf("stop = %d, want 200", w.Code)
	}
	if w := api.do(http.MethodPost, "/v1/campaigns/c1/stop", ""); w.Code != http.StatusConflict {
		t.Fatalf("second stop = %d, want 409", w.Code)
	}
}

func TestStartCampaignUnknownID(t *testing.T) {
	api := newTestAPI(t, "sup-1", rbac.RoleSupervisor)
	if w := api.do(http.MethodPost, "/v1/campaigns/ghost/start", ""); w.Code != http.StatusNotFound {
		t.Fatalf("start unknown = %d, want 404", w.Code)
	}
}

func TestCampaignRoutesRejectAgentRole(t *testing.T) {
	api := newTestAPI(t, "agent-1", rbac.RoleAgent)
	api.seedCampaign(t, "c1")
	if w := api.do(http.MethodPost, "/v1/campaigns/c1/start", ""); w.Code != http.StatusForbidden {
		t.Fatalf("start as agent = %d, want 403", w.Code)
	}
}

func TestCallNextAndEndCall(t *testing.T) {
	ctx := context.Background()
	api := newTestAPI(t, "agent-1", rbac.RoleAgent)
	api.seedCampaign(t, "c1")
	if _, err := api.engine.StartCampaign(ctx, "c1"); err != nil {
		t.Fatalf("start campaign: %v", err)
	}
	api.allocations.Put(allocation.Allocation{
		ID:          "a1",
		CampaignID:  "c1",
		PhoneNumber: "15550001111",
		Status:      allocation.StatusPending,
		Priority:    allocation.PriorityHigh,
	})
	if err := api.agents.SetStatus(ctx, "agent-1", agent.StatusReady, "c1"); err != nil {
		t.Fatalf("ready agent: %v", err)
	}

	w := api.do(http.MethodPost, "/v1/dialer/call-next", "")
	if w.Code != http.StatusOK {
		t.Fatalf("call-next = %d body %s, want 200", w.Code, w.Body.String())
	}
	var attempt dialer.CallAttempt
	if err := json.Unmarshal(w.Body.Bytes(), &attempt); err != nil {
		t.Fatalf("decode attempt: %v", err)
	}
	if attempt.Status != dialer.StatusInitiated {
		t.Fatalf("attempt status = %s, want initiated", attempt.Status)
	}

	// Ending before the call is answered is a state conflict.
	if w := api.do(http.MethodPost, "/v1/calls/"+attempt.ID+"/end", `{"disposition":"paid"}`); w.Code != http.StatusConflict {
		t.Fatalf("premature end = %d, want 409", w.Code)
	}

	// Abandon resolves the ringing call.
	if w := api.do(http.MethodPost, "/v1/calls/"+attempt.ID+"/abandon", ""); w.Code != http.StatusConflict {
		// initiated -> abandoned is not legal either; drive it to ringing first
		t.Fatalf("abandon initiated = %d, want 409", w.Code)
	}
}

func TestCallNextNoWork(t *testing.T) {
	ctx := context.Background()
	api := newTestAPI(t, "agent-1", rbac.RoleAgent)
	api.seedCampaign(t, "c1")
	if _, err := api.engine.StartCampaign(ctx, "c1"); err != nil {
		t.Fatalf("start campaign: %v", err)
	}
	if err := api.agents.SetStatus(ctx, "agent-1", agent.StatusReady, "c1"); err != nil {
		t.Fatalf("ready agent: %v", err)
	}

	if w := api.do(http.MethodPost, "/v1/dialer/call-next", ""); w.Code != http.StatusNotFound {
		t.Fatalf("call-next = %d, want 404 on empty queue", w.Code)
	}
}

func TestEndCallUnknownAttempt(t *testing.T) {
	api := newTestAPI(t, "agent-1", rbac.RoleAgent)
	if w := api.do(http.MethodPost, "/v1/calls/ghost/end", `{"disposition":"paid"}`); w.Code != http.StatusNotFound {
		t.Fatalf("end unknown = %d, want 404", w.Code)
	}
}

func TestSetAgentStatus(t *testing.T) {
	api := newTestAPI(t, "agent-1", rbac.RoleAgent)

	w := api.do(http.MethodPost, "/v1/agents/status", `{"status":"ready","campaign_id":"c1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set status = %d body %s, want 200", w.Code, w.Body.String())
	}
	ag, err := api.agents.Get(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if ag.Status != agent.StatusReady || ag.CampaignID != "c1" {
		t.Fatalf("agent = %+v, want ready on c1", ag)
	}

	if w := api.do(http.MethodPost, "/v1/agents/status", `{"status":"on_call"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("on_call = %d, want 400 (engine-owned)", w.Code)
	}
	if w := api.do(http.MethodPost, "/v1/agents/status", `{"status":"napping"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status = %d, want 400", w.Code)
	}
}

func TestDncAddAndCheck(t *testing.T) {
	api := newTestAPI(t, "admin-1", rbac.RoleAdmin)

	if w := api.do(http.MethodPost, "/v1/dnc", `{"phone_number":"15550009999","reason":"opt-out"}`); w.Code != http.StatusCreated {
		t.Fatalf("add = %d, want 201", w.Code)
	}
	if w := api.do(http.MethodPost, "/v1/dnc", `{"phone_number":"15550009999"}`); w.Code != http.StatusConflict {
		t.Fatalf("duplicate add = %d, want 409", w.Code)
	}
	if w := api.do(http.MethodPost, "/v1/dnc", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty add = %d, want 400", w.Code)
	}

	w := api.do(http.MethodGet, "/v1/dnc/15550009999", "")
	if w.Code != http.StatusOK {
		t.Fatalf("check = %d, want 200", w.Code)
	}
	var body struct {
		Listed bool   `json:"listed"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Listed || body.Reason != "opt-out" {
		t.Fatalf("body = %+v, want listed with reason", body)
	}

	w = api.do(http.MethodGet, "/v1/dnc/15550000000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("check clean = %d, want 200", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Listed {
		t.Fatal("clean number reported listed")
	}
}

func TestDncAddRequiresAdmin(t *testing.T) {
	api := newTestAPI(t, "agent-1", rbac.RoleAgent)
	if w := api.do(http.MethodPost, "/v1/dnc", `{"phone_number":"15550009999"}`); w.Code != http.StatusForbidden {
		t.Fatalf("add as agent = %d, want 403", w.Code)
	}
}

func TestHealthWithoutBackingStores(t *testing.T) {
	api := newTestAPI(t, "agent-1", rbac.RoleAgent)
	w := api.do(http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", w.Code)
	}
}

func TestHealthReportsUnreachablePostgres(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Port 1 refuses connections, so the ping fails without waiting
	// out the health check timeout.
	db, err := sql.Open("pgx", "postgres://nobody@127.0.0.1:1/none")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	h := Handlers{DB: db}
	r := gin.New()
	r.GET("/healthz", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz = %d body %s, want 503", w.Code, w.Body.String())
	}
}
