package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"smartflow/internal/cache"
	"smartflow/internal/domain"
	"smartflow/internal/ratelimit"
	"smartflow/internal/signallog"
	"smartflow/internal/toolclient"
	"smartflow/pkg/metrics"
)

var testTracer = noop.NewTracerProvider().Tracer("test")

type fakeTools struct {
	mu      sync.Mutex
	calls   int
	payload json.RawMessage
	err     error
	credits map[string]int
}

func (f *fakeTools) CallTool(ctx context.Context, tool string, args any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.payload, f.err
}

func (f *fakeTools) Credits(tool string) int {
	if c, ok := f.credits[tool]; ok {
		return c
	}
	return 1
}

func (f *fakeTools) ListTools() []toolclient.ToolInfo {
	return []toolclient.ToolInfo{{Name: "token_flows", Credits: 2}}
}

type fakeShared struct {
	data map[string][]byte
	ttl  time.Duration
}

func (f *fakeShared) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (f *fakeShared) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	f.ttl = ttl
	return nil
}

type fakeQuoter struct {
	price float64
	err   error
}

func (f *fakeQuoter) FetchTokenPrice(ctx context.Context, chain, address string) (float64, error) {
	return f.price, f.err
}

type recordingNotifier struct {
	got []domain.LoggedSignal
}

func (n *recordingNotifier) NotifySignal(ctx context.Context, sig domain.LoggedSignal) error {
	n.got = append(n.got, sig)
	return nil
}

func newTestService(t *testing.T, tools ToolCaller, mutate func(*IntelServiceConfig)) *IntelService {
	t.Helper()
	log, err := signallog.Open("", false)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	cfg := IntelServiceConfig{
		Tracer:       testTracer,
		Logger:       zerolog.Nop(),
		Limiter:      ratelimit.New(ratelimit.Config{MaxTokens: 10, RefillRate: 100}),
		Cache:        cache.New[json.RawMessage](time.Minute),
		Tools:        tools,
		Signals:      log,
		RecentWindow: time.Hour,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewIntelService(cfg)
}

func TestIntelService_CallToolCachesResults(t *testing.T) {
	t.Parallel()

	tools := &fakeTools{payload: json.RawMessage(`{"netflow":1}`), credits: map[string]int{"token_flows": 3}}
	svc := newTestService(t, tools, nil)
	args := map[string]any{"chain": "ethereum", "token": "0x1"}

	for i := 0; i < 3; i++ {
		out, err := svc.CallTool(context.Background(), "token_flows", args)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(out) != `{"netflow":1}` {
			t.Fatalf("unexpected payload: %s", out)
		}
	}
	if tools.calls != 1 {
		t.Fatalf("expected one endpoint call, got %d", tools.calls)
	}

	gov := svc.GovernanceStats()
	if gov.Cache.Hits != 2 || gov.Cache.Misses != 1 || gov.Cache.CreditsSaved != 6 {
		t.Fatalf("unexpected cache stats: %+v", gov.Cache)
	}
	if gov.RateLimit.TotalRequests != 1 {
		t.Fatalf("expected one admission, got %+v", gov.RateLimit)
	}
}

type gatedTools struct {
	fakeTools
	release chan struct{}
}

func (g *gatedTools) CallTool(ctx context.Context, tool string, args any) (json.RawMessage, error) {
	<-g.release
	return g.fakeTools.CallTool(ctx, tool, args)
}

func TestIntelService_CallToolCountsJoinedCallersAsMisses(t *testing.T) {
	t.Parallel()

	tools := &gatedTools{fakeTools: fakeTools{payload: json.RawMessage(`{}`)}, release: make(chan struct{})}
	rec := metrics.New()
	svc := newTestService(t, tools, func(cfg *IntelServiceConfig) { cfg.Metrics = rec })

	const callers = 4
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CallTool(context.Background(), "token_flows", map[string]any{"chain": "base"}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(tools.release)
	wg.Wait()

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()
	want := `smartflow_tool_calls_total{result="miss",tool="token_flows"} 4`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in metrics output:\n%s", want, body)
	}
	if strings.Contains(body, `result="hit",tool="token_flows"`) {
		t.Fatalf("joined callers must not be counted as hits:\n%s", body)
	}
	if got := svc.GovernanceStats().Cache.Misses; got != callers {
		t.Fatalf("expected %d cache misses, got %d", callers, got)
	}
}

func TestIntelService_CallToolUsesSharedCache(t *testing.T) {
	t.Parallel()

	shared := &fakeShared{data: map[string][]byte{}}
	tools := &fakeTools{payload: json.RawMessage(`[1,2]`)}
	args := map[string]any{"chain": "base"}
	key := cache.MakeKey("tool:token_holders", args)
	shared.data[key] = []byte(`[9]`)

	svc := newTestService(t, tools, func(cfg *IntelServiceConfig) { cfg.Shared = shared })
	out, err := svc.CallTool(context.Background(), "token_holders", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `[9]` || tools.calls != 0 {
		t.Fatalf("expected shared cache hit, got %s with %d calls", out, tools.calls)
	}

	out, err = svc.CallTool(context.Background(), "token_holders", map[string]any{"chain": "ethereum"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `[1,2]` || tools.calls != 1 {
		t.Fatalf("expected endpoint call, got %s with %d calls", out, tools.calls)
	}
	if _, ok := shared.data[cache.MakeKey("tool:token_holders", map[string]any{"chain": "ethereum"})]; !ok {
		t.Fatal("expected result written to shared cache")
	}
	if shared.ttl != time.Minute {
		t.Fatalf("expected cache ttl, got %v", shared.ttl)
	}
}

func TestIntelService_CallToolErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	tools := &fakeTools{err: &toolclient.Error{Kind: toolclient.KindHTTP, Status: 500}}
	svc := newTestService(t, tools, func(cfg *IntelServiceConfig) { cfg.Metrics = metrics.New() })

	for i := 0; i < 2; i++ {
		if _, err := svc.CallTool(context.Background(), "token_flows", nil); !errors.Is(err, toolclient.ErrHTTP) {
			t.Fatalf("expected http error, got %v", err)
		}
	}
	if tools.calls != 2 {
		t.Fatalf("expected failures to be retried by the next caller, got %d calls", tools.calls)
	}
}

func TestIntelService_CallToolDisabled(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, nil)
	if _, err := svc.CallTool(context.Background(), "token_flows", nil); !errors.Is(err, ErrToolsDisabled) {
		t.Fatalf("expected ErrToolsDisabled, got %v", err)
	}
	if svc.ListTools() != nil {
		t.Fatal("expected no tools")
	}
}

func TestIntelService_AdmissionCostIsCapped(t *testing.T) {
	t.Parallel()

	tools := &fakeTools{payload: json.RawMessage(`1`), credits: map[string]int{"big": 50}}
	svc := newTestService(t, tools, func(cfg *IntelServiceConfig) {
		cfg.Limiter = ratelimit.New(ratelimit.Config{MaxTokens: 5, RefillRate: 100})
	})
	if _, err := svc.CallTool(context.Background(), "big", nil); err != nil {
		t.Fatalf("expected capped admission, got %v", err)
	}
}

func TestIntelService_RecordSignals(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	svc := newTestService(t, nil, func(cfg *IntelServiceConfig) { cfg.Notifier = notifier })

	batch := []domain.OpportunitySignal{
		{Type: domain.SignalAccumulation, Token: "0x1", Chain: "ethereum", Score: 7},
		{Type: domain.SignalAccumulation, Token: "0x1", Chain: "ethereum", Score: 8},
		{Type: domain.SignalDistribution, Token: "0x2", Chain: "base", Score: 5},
	}
	res, err := svc.RecordSignals(context.Background(), batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Created != 2 || len(res.Logged) != 3 || res.SkippedRecent != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(notifier.got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.got))
	}

	res, err = svc.RecordSignals(context.Background(), batch[:1])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SkippedRecent != 1 || res.Created != 0 {
		t.Fatalf("expected recent signal skipped: %+v", res)
	}
	if len(notifier.got) != 2 {
		t.Fatal("no notification expected for recent signal")
	}
}

func TestIntelService_RecordSignalsValidates(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, nil)
	_, err := svc.RecordSignals(context.Background(), []domain.OpportunitySignal{{Type: domain.SignalAccumulation, Chain: "base"}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if svc.Signals().Len() != 0 {
		t.Fatal("nothing should be logged")
	}
}

func TestIntelService_MarkActedAndOutcome(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, nil)
	res, err := svc.RecordSignals(context.Background(), []domain.OpportunitySignal{
		{Type: domain.SignalSmartMoneyBuy, Token: "0x1", Chain: "ethereum", Score: 9},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := res.Logged[0].ID

	rec, err := svc.MarkActed(context.Background(), id, domain.ActionBuy, "half size")
	if err != nil || !rec.Acted {
		t.Fatalf("mark acted failed: %+v %v", rec, err)
	}

	entry, exit := 2.0, 3.0
	rec, err = svc.RecordOutcome(context.Background(), id, signallog.OutcomeUpdate{EntryPrice: &entry, ExitPrice: &exit})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *rec.Outcome.PnL != 1 || *rec.Outcome.PnLPercent != 50 {
		t.Fatalf("unexpected outcome: %+v", rec.Outcome)
	}

	if _, err := svc.MarkActed(context.Background(), "sig_missing", domain.ActionBuy, ""); !errors.Is(err, ErrSignalNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.GetSignal("sig_missing"); !errors.Is(err, ErrSignalNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIntelService_RecordOutcomeAtMarket(t *testing.T) {
	t.Parallel()

	quoter := &fakeQuoter{price: 4}
	svc := newTestService(t, nil, func(cfg *IntelServiceConfig) { cfg.Prices = quoter })
	res, _ := svc.RecordSignals(context.Background(), []domain.OpportunitySignal{
		{Type: domain.SignalAccumulation, Token: "0x1", Chain: "ethereum"},
	})
	id := res.Logged[0].ID

	if _, err := svc.RecordOutcomeAtMarket(context.Background(), id, "entry"); err != nil {
		t.Fatalf("entry: %v", err)
	}
	quoter.price = 5
	rec, err := svc.RecordOutcomeAtMarket(context.Background(), id, "EXIT")
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if *rec.Outcome.EntryPrice != 4 || *rec.Outcome.ExitPrice != 5 || *rec.Outcome.PnLPercent != 25 {
		t.Fatalf("unexpected outcome: %+v", rec.Outcome)
	}

	if _, err := svc.RecordOutcomeAtMarket(context.Background(), id, "middle"); !errors.Is(err, ErrInvalidLeg) {
		t.Fatalf("expected ErrInvalidLeg, got %v", err)
	}
	quoter.err = errors.New("down")
	if _, err := svc.RecordOutcomeAtMarket(context.Background(), id, "exit"); err == nil {
		t.Fatal("expected quote error")
	}
}

func TestIntelService_RecordOutcomeAtMarketWithoutQuoter(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil, nil)
	if _, err := svc.RecordOutcomeAtMarket(context.Background(), "sig_x", "entry"); !errors.Is(err, ErrNoPriceSource) {
		t.Fatalf("expected ErrNoPriceSource, got %v", err)
	}
}
