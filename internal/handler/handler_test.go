package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/capitalize-ai/chat-widget/internal/billing"
	"github.com/capitalize-ai/chat-widget/internal/llm"
	"github.com/capitalize-ai/chat-widget/internal/middleware"
	"github.com/capitalize-ai/chat-widget/internal/model"
	"github.com/capitalize-ai/chat-widget/internal/prompt"
	"github.com/capitalize-ai/chat-widget/internal/service"
	"github.com/capitalize-ai/chat-widget/internal/store"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
	"github.com/capitalize-ai/chat-widget/internal/web"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
)

const (
	testBase  = "https://widget.test"
	adminUser = "admin"
	adminPass = "pw"
)

type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Complete(_ context.Context, _ *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.reply, Model: "fake"}, nil
}

func (f *fakeLLM) Name() string  { return "fake" }
func (f *fakeLLM) Model() string { return "fake" }

type fakeGateway struct {
	mu        sync.Mutex
	sessions  map[string]*billing.Session
	checkouts []billing.CheckoutRequest
	event     *billing.Event
	err       error
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.checkouts = append(g.checkouts, req)
	return &billing.Session{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (g *fakeGateway) GetSession(_ context.Context, id string) (*billing.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, errors.New("no such checkout session")
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) CreatePortal(_ context.Context, customerID, _ string) (string, error) {
	return "https://billing.stripe.test/p/" + customerID, nil
}

func (g *fakeGateway) ParseWebhook(_ []byte, signature string) (*billing.Event, error) {
	if signature != "good" {
		return nil, billing.ErrBadSignature
	}
	return g.event, nil
}

type testServer struct {
	router  http.Handler
	db      *store.Store
	llm     *fakeLLM
	gateway *fakeGateway
	tokens  *billing.TokenIssuer
	leads   *service.LeadService
	chat    *service.ChatService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	clients := map[string]any{
		"default": tenant.DefaultRecord(),
		"alpha": map[string]any{
			"brand":          map[string]any{"name": "Alpha Co"},
			"widgetKey":      "abc",
			"allowedDomains": []any{"example.com"},
		},
	}
	data, err := json.Marshal(clients)
	require.NoError(t, err)
	clientsPath := filepath.Join(dir, "clients.json")
	require.NoError(t, os.WriteFile(clientsPath, data, 0o644))

	promptDir := filepath.Join(dir, "prompts")
	require.NoError(t, os.MkdirAll(promptDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(promptDir, "core.txt"), []byte("You are {{BRAND_NAME}}."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(promptDir, "client_template.txt"), []byte("About {{BRAND_NAME}}"), 0o644))

	db, err := store.Open(filepath.Join(dir, "widget.sqlite3"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Init(context.Background()))

	log := logger.Nop()
	tenants := tenant.NewStore(clientsPath, "https://cal.test/demo")
	prompts := prompt.NewBundler(promptDir)
	pages, err := web.NewRenderer()
	require.NoError(t, err)

	fake := &fakeLLM{reply: `{"reply":"hi there","action":"none","lead":{}}`}
	gateway := &fakeGateway{sessions: map[string]*billing.Session{}}
	tokens := billing.NewTokenIssuer("test-secret", time.Hour)

	chatSvc := service.NewChatService(tenants, prompts, fake, db, nil, noop.NewTracerProvider().Tracer("test"), log)
	leadSvc := service.NewLeadService(tenants, db, service.LeadOptions{}, log)
	tenantSvc := service.NewTenantService(tenants, prompts, "https://cal.test/demo", log)
	billingSvc := service.NewBillingService(gateway, db, tokens, tenantSvc,
		map[string]string{"starter": "price_starter", "growth": ""}, testBase, log)

	widgetH := NewWidgetHandler(tenants, pages, "fake-model", log)
	chatH := NewChatHandler(chatSvc, log)
	leadH := NewLeadHandler(leadSvc, log)
	adminH := NewAdminHandler(tenantSvc, service.NewReportService(db), pages, testBase, log)
	billingH := NewBillingHandler(billingSvc, pages, log)
	healthH := NewHealthHandler(db, nil)

	r := chi.NewRouter()
	r.Use(middleware.SecurityHeaders(tenants))
	r.Use(middleware.LimitBody(middleware.MaxBodyBytes))
	r.Get("/health", healthH.Health)
	r.Get("/ready", healthH.Ready)
	r.Handle("/static/*", web.Static())
	r.Group(func(r chi.Router) {
		r.Use(middleware.Tenant)
		r.Get("/", widgetH.Index)
		r.Get("/embed", widgetH.Embed)
		r.Get("/widget.js", widgetH.Script)
		r.Get("/config", widgetH.Config)
		r.Post("/chat", chatH.Chat)
		r.Post("/lead", leadH.Create)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(adminUser, adminPass))
		r.Get("/", adminH.Dashboard)
		r.Get("/clients", adminH.Clients)
		r.Post("/create-client", adminH.Create)
		r.Post("/update-client", adminH.Update)
		r.Post("/rotate-key", adminH.RotateKey)
		r.Get("/data", adminH.Data)
		r.Get("/export.csv", adminH.Export)
	})
	r.Post("/billing/checkout", billingH.Checkout)
	r.Post("/billing/portal", billingH.Portal)
	r.Get("/after-checkout", billingH.AfterCheckout)
	r.Post("/onboard", billingH.Onboard)
	r.Post("/stripe/webhook", billingH.Webhook)

	ts := &testServer{router: r, db: db, llm: fake, gateway: gateway, tokens: tokens, leads: leadSvc, chat: chatSvc}
	t.Cleanup(func() {
		leadSvc.Wait()
		chatSvc.Wait()
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(path string) *httptest.ResponseRecorder {
	return ts.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (ts *testServer) post(path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return ts.do(req)
}

func (ts *testServer) admin(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.SetBasicAuth(adminUser, adminPass)
	return ts.do(req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = ts.get("/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestConfigIsPublic(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get("/config?client=alpha")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)

	assert.NotContains(t, body, "widgetKey")
	assert.NotContains(t, body, "allowedDomains")
	assert.Equal(t, "Alpha Co", body["brand"].(map[string]any)["name"])
	assert.Equal(t, "https://cal.test/demo", body["links"].(map[string]any)["demo"])
	meta := body["meta"].(map[string]any)
	assert.Equal(t, "alpha", meta["clientId"])
	assert.Equal(t, "fake-model", meta["model"])

	body = decode(t, ts.get("/config?client=../../etc"))
	assert.Equal(t, "default", body["meta"].(map[string]any)["clientId"])
}

func TestWidgetScriptAllowList(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/widget.js?client=alpha", nil)
	req.Header.Set("Referer", "https://app.example.com/pricing")
	rec := ts.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), "/embed?client=")

	req = httptest.NewRequest(http.MethodGet, "/widget.js?c=alpha", nil)
	req.Header.Set("Referer", "https://evilexample.com/")
	rec = ts.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "/* not allowed */", rec.Body.String())

	// Tenants without an allow-list accept any page.
	req = httptest.NewRequest(http.MethodGet, "/widget.js", nil)
	req.Header.Set("Referer", "https://anywhere.io/")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)
}

func TestEmbedFramePolicy(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get("/embed?client=alpha")
	require.Equal(t, http.StatusOK, rec.Code)
	csp := rec.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "frame-ancestors 'self' https://example.com http://example.com;")
	assert.Empty(t, rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Body.String(), `data-client="alpha"`)

	rec = ts.get("/embed?c=alpha")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"),
		"frame-ancestors 'self' https://example.com http://example.com;")
	assert.Contains(t, rec.Body.String(), `data-client="alpha"`)

	rec = ts.get("/?client=alpha")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "frame-ancestors 'none';")
}

func TestStaticAssets(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get("/static/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/chat")
}

func TestChat(t *testing.T) {
	ts := newTestServer(t)

	t.Run("wrong key", func(t *testing.T) {
		rec := ts.post("/chat?client=alpha", map[string]any{"message": "hello"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "Not allowed", body["reply"])
		assert.Equal(t, "none", body["action"])
		assert.Equal(t, map[string]any{}, body["lead"])
	})

	t.Run("empty message", func(t *testing.T) {
		before := ts.llm.calls
		rec := ts.post("/chat?client=alpha&k=abc", map[string]any{"message": "   "})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, service.FillerReply, decode(t, rec)["reply"])
		assert.Equal(t, before, ts.llm.calls)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := ts.post("/chat", "{not json")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, service.FillerReply, decode(t, rec)["reply"])
	})

	t.Run("key in query", func(t *testing.T) {
		rec := ts.post("/chat?client=alpha&k=abc", map[string]any{"message": "hello"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "hi there", decode(t, rec)["reply"])
	})

	t.Run("tenant and key in body", func(t *testing.T) {
		rec := ts.post("/chat", map[string]any{"message": "hello", "client": "alpha", "k": "abc"})
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = ts.post("/chat", map[string]any{"message": "hello", "client": "alpha"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("key in header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/chat?client=alpha", strings.NewReader(`{"message":"hello"}`))
		req.Header.Set("X-Widget-Key", "abc")
		assert.Equal(t, http.StatusOK, ts.do(req).Code)
	})

	t.Run("model failure", func(t *testing.T) {
		ts.llm.mu.Lock()
		ts.llm.err = errors.New("upstream timeout")
		ts.llm.mu.Unlock()
		defer func() {
			ts.llm.mu.Lock()
			ts.llm.err = nil
			ts.llm.mu.Unlock()
		}()

		rec := ts.post("/chat?client=alpha&k=abc", map[string]any{"message": "hello"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, service.ApologyReply, body["reply"])
		assert.NotContains(t, rec.Body.String(), "upstream timeout")
	})
}

func TestChatBookDemoRecordsEvent(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.reply = `{"reply":"Let's talk","action":"book_demo","lead":{"service":"seo"}}`

	rec := ts.post("/chat", map[string]any{"message": "can we meet?"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.True(t, strings.HasSuffix(body["reply"].(string), "https://cal.test/demo"))
	assert.Equal(t, "book_demo", body["action"])

	stats, err := ts.db.Stats(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Events["book_demo"])
}

func TestLead(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	rec := ts.post("/lead?client=alpha&k=abc", map[string]any{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid email", decode(t, rec)["error"])

	rec = ts.post("/lead?client=alpha", map[string]any{"email": "user@example.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "Not allowed", body["error"])

	leads, err := ts.db.ListLeads(ctx, "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, leads)

	rec = ts.post("/lead?client=alpha&k=abc", map[string]any{
		"email":   "  User@Example.com ",
		"service": "seo",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])

	leads, err = ts.db.ListLeads(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "user@example.com", leads[0].Email)
	assert.Equal(t, "chat", leads[0].Source)

	rec = ts.post("/lead", "[")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.get("/admin/clients")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="Widget Admin"`, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/admin/clients", nil)
	req.SetBasicAuth(adminUser, "wrong")
	assert.Equal(t, http.StatusUnauthorized, ts.do(req).Code)

	rec = ts.admin(http.MethodGet, "/admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/static/admin.js")
}

func TestAdminTenantLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.admin(http.MethodPost, "/admin/create-client", map[string]any{
		"client_id":       "beta",
		"brand_name":      "Beta Labs",
		"allowed_domains": []any{"beta.io", 42, ""},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.Equal(t, true, created["ok"])
	assert.Equal(t, "beta", created["client_id"])
	key := created["widget_key"].(string)
	assert.NotEmpty(t, key)
	assert.Contains(t, created["snippet"], testBase+"/widget.js")
	assert.Contains(t, created["snippet"], key)
	assert.Equal(t, testBase+"/?client=beta", created["preview_url"])

	rec = ts.admin(http.MethodPost, "/admin/create-client", map[string]any{"client_id": "beta"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Client already exists", decode(t, rec)["error"])

	rec = ts.admin(http.MethodPost, "/admin/create-client", map[string]any{"client_id": "default"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.admin(http.MethodPost, "/admin/create-client", map[string]any{"client_id": "gamma", "allowed_domains": "gamma.io"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrDomainsNotList.Error(), decode(t, rec)["error"])

	rec = ts.admin(http.MethodGet, "/admin/clients", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"client_id":"beta"`)
	assert.Contains(t, rec.Body.String(), `"name":"Beta Labs"`)

	rec = ts.admin(http.MethodPost, "/admin/update-client", map[string]any{"client_id": "beta", "demo_link": "https://cal.test/beta"})
	assert.Equal(t, http.StatusOK, rec.Code)
	cfg := decode(t, ts.get("/config?client=beta"))
	assert.Equal(t, "https://cal.test/beta", cfg["links"].(map[string]any)["demo"])

	rec = ts.admin(http.MethodPost, "/admin/update-client", map[string]any{"client_id": "nobody"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.admin(http.MethodPost, "/admin/rotate-key", map[string]any{"client_id": "beta"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, key, decode(t, rec)["widget_key"])
}

func TestAdminDataAndExport(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.db.InsertLead(ctx, &model.Lead{TenantID: "alpha", Email: "a@x.io", Service: `say "hi"`, Source: "chat"}))
	require.NoError(t, ts.db.InsertLead(ctx, &model.Lead{TenantID: "beta", Email: "b@x.io", Source: "chat"}))

	rec := ts.admin(http.MethodGet, "/admin/data?client=alpha", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "alpha", body["client"])
	assert.Contains(t, body, "funnel")
	assert.Len(t, body["leads"], 1)

	body = decode(t, ts.admin(http.MethodGet, "/admin/data", nil))
	assert.NotContains(t, body, "funnel")
	assert.Len(t, body["leads"], 2)

	rec = ts.admin(http.MethodGet, "/admin/export.csv?client=alpha", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `"id","ts","client_id","email","service","timing","budget","source","conversation"`, lines[0])
	assert.Contains(t, lines[1], `"say ""hi"""`)

	require.NoError(t, ts.db.Close())
	rec = ts.admin(http.MethodGet, "/admin/export.csv?client=alpha", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Empty(t, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, false, decode(t, rec)["ok"])
}

func TestBillingCheckout(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post("/billing/checkout", map[string]any{"plan": "growth"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid plan", decode(t, rec)["error"])

	rec = ts.post("/billing/checkout", map[string]any{"plan": "enterprise"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.post("/billing/checkout", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", decode(t, rec)["url"])

	require.Len(t, ts.gateway.checkouts, 1)
	req := ts.gateway.checkouts[0]
	assert.Equal(t, "price_starter", req.PriceID)
	assert.Equal(t, testBase+"/after-checkout?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)
	assert.Equal(t, testBase+"/pricing?canceled=1", req.CancelURL)

	acct, err := ts.db.GetBySession(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, model.BillingPending, acct.Status)

	ts.gateway.err = errors.New("stripe down")
	rec = ts.post("/billing/checkout", map[string]any{"plan": "starter"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "stripe down")
}

func TestBillingOnboarding(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ts.gateway.sessions["cs_paid"] = &billing.Session{
		ID: "cs_paid", Email: "buyer@shop.io", CustomerID: "cus_1", SubscriptionID: "sub_1",
		Plan: "starter", PaymentStatus: "paid",
	}
	ts.gateway.sessions["cs_unpaid"] = &billing.Session{ID: "cs_unpaid", PaymentStatus: "unpaid"}

	assert.Equal(t, http.StatusBadRequest, ts.get("/after-checkout").Code)

	rec := ts.get("/after-checkout?session_id=cs_paid")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="cs_paid"`)
	assert.Contains(t, rec.Body.String(), `value="buyer@shop.io"`)

	token, err := ts.tokens.Issue("cs_paid", "buyer@shop.io", "starter")
	require.NoError(t, err)

	rec = ts.post("/onboard", map[string]any{"token": "forged", "session_id": "cs_paid", "client_id": "shop"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	unpaidToken, err := ts.tokens.Issue("cs_unpaid", "", "starter")
	require.NoError(t, err)
	rec = ts.post("/onboard", map[string]any{"token": unpaidToken, "session_id": "cs_unpaid", "client_id": "shop"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "Not paid", decode(t, rec)["error"])

	rec = ts.post("/onboard", map[string]any{
		"token":           token,
		"session_id":      "cs_paid",
		"client_id":       "shop",
		"allowed_domains": []any{"shop.io"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode(t, rec)
	assert.Equal(t, "shop", created["client_id"])
	assert.NotEmpty(t, created["widget_key"])
	assert.NotContains(t, created, "preview_url")

	acct, err := ts.db.GetBySession(ctx, "cs_paid")
	require.NoError(t, err)
	assert.Equal(t, model.BillingActive, acct.Status)
	assert.Equal(t, "shop", acct.TenantID)
	assert.Equal(t, "cus_1", acct.StripeCustomerID)

	rec = ts.post("/onboard", map[string]any{"token": token, "session_id": "cs_paid", "client_id": "shop2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOnboardingRefusesCanceledSubscription(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ts.gateway.sessions["cs_gone"] = &billing.Session{
		ID: "cs_gone", Email: "buyer@shop.io", CustomerID: "cus_2", SubscriptionID: "sub_2",
		Plan: "starter", PaymentStatus: "paid",
	}
	require.NoError(t, ts.db.ActivateSession(ctx, store.SessionInfo{SessionID: "cs_gone", SubscriptionID: "sub_2"}))
	_, err := ts.db.SetStatusBySubscription(ctx, "sub_2", model.BillingCanceled)
	require.NoError(t, err)

	token, err := ts.tokens.Issue("cs_gone", "buyer@shop.io", "starter")
	require.NoError(t, err)
	rec := ts.post("/onboard", map[string]any{"token": token, "session_id": "cs_gone", "client_id": "gone"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	acct, err := ts.db.GetBySession(ctx, "cs_gone")
	require.NoError(t, err)
	assert.Equal(t, model.BillingCanceled, acct.Status)
	assert.False(t, acct.Provisioned())
}

func TestStripeWebhook(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, ts.db.ActivateSession(ctx, store.SessionInfo{
		SessionID: "cs_1", Email: "buyer@shop.io", CustomerID: "cus_1", SubscriptionID: "sub_1", Plan: "starter",
	}))

	req := httptest.NewRequest(http.MethodPost, "/stripe/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "bad")
	rec := ts.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.gateway.event = &billing.Event{
		ID:           "evt_1",
		Type:         billing.EventSubscriptionDeleted,
		Subscription: &billing.Subscription{ID: "sub_1"},
	}
	req = httptest.NewRequest(http.MethodPost, "/stripe/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "good")
	rec = ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	acct, err := ts.db.GetBySession(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, model.BillingCanceled, acct.Status)

	ts.gateway.event = &billing.Event{ID: "evt_2", Type: "invoice.paid"}
	req = httptest.NewRequest(http.MethodPost, "/stripe/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "good")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)
}

func TestBillingPortal(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.post("/billing/portal", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.post("/billing/portal", map[string]any{"stripe_customer_id": "cus_9"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://billing.stripe.test/p/cus_9", decode(t, rec)["url"])
}
