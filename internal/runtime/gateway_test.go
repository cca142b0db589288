package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/auth"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/config"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/handlers"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/storage"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/testutil"
)

func newGateway(t *testing.T, opts ...Option) *Gateway {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.DiscardLogger())}, opts...)
	gw, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

func target(op, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(handlers.TargetHeader, op)
	return req
}

func finalizeWith(status int) chain.RequestHandler {
	return chain.RequestHandlerFunc(func(c *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		resp.SetStatus(status)
		resp.Finalize()
		return nil
	})
}

func counted(n *int, h chain.RequestHandler) chain.RequestHandler {
	return chain.RequestHandlerFunc(func(c *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		*n++
		return h.HandleRequest(c, ctx, resp)
	})
}

func TestNew_DefaultHandlers(t *testing.T) {
	gw := newGateway(t)

	request, response, exception := gw.HandlerNames()

	wantRequest := []string{handlers.NameRequestID, handlers.NameParse, handlers.NameAuthenticate, handlers.NameRoute}
	if !reflect.DeepEqual(request, wantRequest) {
		t.Errorf("request handlers = %v, want %v", request, wantRequest)
	}
	wantResponse := []string{handlers.NameCORS, handlers.NameRequestIDHeader, handlers.NameMetrics, handlers.NameRecord, handlers.NameLog}
	if !reflect.DeepEqual(response, wantResponse) {
		t.Errorf("response handlers = %v, want %v", response, wantResponse)
	}
	wantException := []string{handlers.NameLogFault, handlers.NameTranslateFault}
	if !reflect.DeepEqual(exception, wantException) {
		t.Errorf("exception handlers = %v, want %v", exception, wantException)
	}

	if got := gw.ServiceNames(); !reflect.DeepEqual(got, []string{"cloudcontrol", "sns"}) {
		t.Errorf("services = %v", got)
	}
}

func TestNew_OptionalHandlers(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 10
	cfg.Upstreams = []config.UpstreamConfig{{Service: "sqs", URL: "http://localhost:9324"}}
	cfg.Storage.Type = "none"

	gw := newGateway(t, WithConfig(cfg))

	request, response, _ := gw.HandlerNames()
	wantRequest := []string{
		handlers.NameRequestID, handlers.NameParse, handlers.NameAuthenticate,
		handlers.NameRateLimit, handlers.NameForward, handlers.NameRoute,
	}
	if !reflect.DeepEqual(request, wantRequest) {
		t.Errorf("request handlers = %v, want %v", request, wantRequest)
	}
	if slices.Contains(response, handlers.NameRecord) {
		t.Error("record handler must be absent without a store")
	}
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "nil logger", opts: []Option{WithLogger(nil)}},
		{name: "nil config", opts: []Option{WithConfig(nil)}},
		{name: "nil registry", opts: []Option{WithRegistry(nil)}},
		{name: "unknown storage", opts: []Option{WithConfig(func() *config.Config {
			cfg := config.Default()
			cfg.Storage.Type = "cassandra"
			return cfg
		}())}},
		{name: "incomplete upstream", opts: []Option{WithConfig(func() *config.Config {
			cfg := config.Default()
			cfg.Upstreams = []config.UpstreamConfig{{Service: "sqs"}}
			return cfg
		}())}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGateway_ChainsSnapshotHandlers(t *testing.T) {
	gw := newGateway(t, WithHandlers(chain.Handlers{}))

	before := gw.NewChain()
	gw.AppendRequestHandler("teapot", finalizeWith(http.StatusTeapot))
	after := gw.NewChain()

	if before.Handlers().Len() != 0 {
		t.Errorf("chain created before registration sees %d handlers", before.Handlers().Len())
	}
	if after.Handlers().Len() != 1 {
		t.Errorf("chain created after registration sees %d handlers", after.Handlers().Len())
	}

	resp := chain.NewResponse()
	if err := after.Handle(chain.NewRequestContext(httptest.NewRequest(http.MethodGet, "/", nil)), resp); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.StatusCode() != http.StatusTeapot {
		t.Errorf("status = %d, want %d", resp.StatusCode(), http.StatusTeapot)
	}
}

func TestGateway_ReconfigureDuringExecution(t *testing.T) {
	var gw *Gateway
	var ran []string

	reconfigure := chain.RequestHandlerFunc(func(c *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		ran = append(ran, "reconfigure")
		gw.SetHandlers(chain.Handlers{})
		return nil
	})
	second := chain.RequestHandlerFunc(func(c *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		ran = append(ran, "second")
		resp.SetStatus(http.StatusNoContent)
		resp.Finalize()
		return nil
	})

	gw = newGateway(t, WithHandlers(chain.Handlers{
		Request: []chain.Entry[chain.RequestHandler]{
			{Name: "reconfigure", Handler: reconfigure},
			{Name: "second", Handler: second},
		},
	}))

	resp := gw.Process(httptest.NewRequest(http.MethodGet, "/", nil))

	if !reflect.DeepEqual(ran, []string{"reconfigure", "second"}) {
		t.Errorf("ran = %v", ran)
	}
	if resp.StatusCode() != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode())
	}
	if gw.Handlers().Len() != 0 {
		t.Errorf("new snapshot has %d handlers, want 0", gw.Handlers().Len())
	}
}

func TestGateway_Remove(t *testing.T) {
	gw := newGateway(t)

	if !gw.Remove(handlers.NameAuthenticate) {
		t.Fatal("Remove() = false, want true")
	}
	if gw.Remove("missing") {
		t.Error("Remove() of an unknown name = true")
	}

	request, _, _ := gw.HandlerNames()
	if slices.Contains(request, handlers.NameAuthenticate) {
		t.Errorf("request handlers = %v", request)
	}

	gw.AppendExceptionHandler("extra", chain.ExceptionHandlerFunc(func(*chain.Chain, *chain.RequestContext, *chain.Response, error) (chain.Disposition, error) {
		return chain.NotHandled, nil
	}))
	gw.AppendResponseHandler("extra", chain.ResponseHandlerFunc(func(*chain.Chain, *chain.RequestContext, *chain.Response) error {
		return nil
	}))
	if !gw.Remove("extra") {
		t.Fatal("Remove(extra) = false")
	}
	_, response, exception := gw.HandlerNames()
	if slices.Contains(response, "extra") || slices.Contains(exception, "extra") {
		t.Errorf("extra handlers still registered: %v %v", response, exception)
	}
}

func TestGateway_ProcessNeverFails(t *testing.T) {
	tests := []struct {
		name    string
		handler chain.RequestHandler
	}{
		{name: "panic", handler: chain.RequestHandlerFunc(func(*chain.Chain, *chain.RequestContext, *chain.Response) error {
			panic("boom")
		})},
		{name: "error", handler: chain.RequestHandlerFunc(func(*chain.Chain, *chain.RequestContext, *chain.Response) error {
			return errors.New("boom")
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newGateway(t, WithHandlers(chain.Handlers{
				Request: []chain.Entry[chain.RequestHandler]{{Name: "explode", Handler: tt.handler}},
			}))

			resp := gw.Process(httptest.NewRequest(http.MethodGet, "/", nil))
			if resp.StatusCode() != http.StatusInternalServerError {
				t.Errorf("status = %d, want 500", resp.StatusCode())
			}
			var body map[string]string
			if err := json.Unmarshal(resp.Body(), &body); err != nil {
				t.Fatalf("body %q is not JSON: %v", resp.Body(), err)
			}
			if body["__type"] != "InternalFailure" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestGateway_AuthenticationFaultScenario(t *testing.T) {
	cfg := config.Default()
	cfg.Auth = config.AuthConfig{
		Enabled: true,
		APIKeys: []config.APIKeyConfig{{KeyHash: auth.HashAPIKey("good-key"), Account: "111111111111"}},
	}

	var logs bytes.Buffer
	routed := 0
	gw := newGateway(t, WithHandlers(chain.Handlers{
		Request: []chain.Entry[chain.RequestHandler]{
			{Name: handlers.NameParse, Handler: handlers.Parse(cfg.Defaults)},
			{Name: handlers.NameAuthenticate, Handler: handlers.Authenticate(auth.NewAuthenticator(cfg.Auth), cfg.Defaults)},
			{Name: handlers.NameRoute, Handler: counted(&routed, finalizeWith(http.StatusOK))},
		},
		Response: []chain.Entry[chain.ResponseHandler]{
			{Name: handlers.NameLog, Handler: handlers.Log(testutil.CaptureLogger(&logs))},
		},
		Exception: []chain.Entry[chain.ExceptionHandler]{
			{Name: handlers.NameTranslateFault, Handler: handlers.TranslateFault()},
		},
	}))

	req := target("sns.ListTopics", "{}")
	req.Header.Set("Authorization", "Bearer wrong-key")
	resp := gw.Process(req)

	if resp.StatusCode() != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode())
	}
	if routed != 0 {
		t.Errorf("route ran %d times, want 0", routed)
	}
	if n := strings.Count(logs.String(), `"msg":"request completed"`); n != 1 {
		t.Errorf("access log written %d times, want 1", n)
	}

	req = target("sns.ListTopics", "{}")
	req.Header.Set("Authorization", "Bearer good-key")
	if resp := gw.Process(req); resp.StatusCode() != http.StatusOK || routed != 1 {
		t.Errorf("authenticated request: status = %d, routed = %d", resp.StatusCode(), routed)
	}
}

func TestGateway_ParseShortCircuit(t *testing.T) {
	defaults := config.Default().Defaults

	var logs bytes.Buffer
	authenticated, routed := 0, 0
	gw := newGateway(t, WithHandlers(chain.Handlers{
		Request: []chain.Entry[chain.RequestHandler]{
			{Name: handlers.NameParse, Handler: handlers.Parse(defaults)},
			{Name: handlers.NameAuthenticate, Handler: counted(&authenticated, handlers.Authenticate(nil, defaults))},
			{Name: handlers.NameRoute, Handler: counted(&routed, finalizeWith(http.StatusOK))},
		},
		Response: []chain.Entry[chain.ResponseHandler]{
			{Name: handlers.NameLog, Handler: handlers.Log(testutil.CaptureLogger(&logs))},
		},
		Exception: []chain.Entry[chain.ExceptionHandler]{
			{Name: handlers.NameTranslateFault, Handler: handlers.TranslateFault()},
		},
	}))

	resp := gw.Process(target("sns.ListTopics", "{not json"))

	if resp.StatusCode() != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode())
	}
	if authenticated != 0 || routed != 0 {
		t.Errorf("authenticate ran %d, route ran %d; want 0 and 0", authenticated, routed)
	}
	if n := strings.Count(logs.String(), `"msg":"request completed"`); n != 1 {
		t.Errorf("access log written %d times, want 1", n)
	}
}

func TestGateway_NoExceptionHandlers(t *testing.T) {
	gw := newGateway(t, WithHandlers(chain.Handlers{
		Request: []chain.Entry[chain.RequestHandler]{
			{Name: handlers.NameParse, Handler: handlers.Parse(config.Default().Defaults)},
		},
	}))

	resp := gw.Process(target("nonsense", "{}"))
	if resp.StatusCode() != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		t.Error("fallback body must not be empty")
	}
}

func TestGateway_ServeHTTP(t *testing.T) {
	gw := newGateway(t)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/", strings.NewReader(`{"Name":"orders"}`))
	req.Header.Set(handlers.TargetHeader, "sns.CreateTopic")
	req.Header.Set(handlers.RequestIDHeader, "req-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get(handlers.RequestIDHeader); got != "req-1" {
		t.Errorf("request id header = %q", got)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["TopicArn"] != "arn:aws:sns:us-east-1:000000000000:orders" {
		t.Errorf("TopicArn = %q", out["TopicArn"])
	}

	list, err := gw.store.List(context.Background(), storage.ListOptions{RequestID: "req-1"})
	if err != nil || len(list) != 1 {
		t.Fatalf("invocation not recorded: %v, err = %v", list, err)
	}
	if inv := list[0]; inv.Service != "sns" || inv.Operation != "CreateTopic" || inv.Status != http.StatusOK {
		t.Errorf("invocation = %+v", inv)
	}

	families, err := gw.gatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "gateway_requests_total" {
			found = true
		}
	}
	if !found {
		t.Error("gateway_requests_total not gathered")
	}
}

func TestGateway_MetricsSeriesStayBounded(t *testing.T) {
	gw := newGateway(t)

	for i := 0; i < 500; i++ {
		gw.Process(httptest.NewRequest(http.MethodPost, fmt.Sprintf("/svc%d/Op", i), strings.NewReader("{}")))
	}
	gw.Process(target("sns.ListTopics", "{}"))

	families, err := gw.gatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != "gateway_requests_total" {
			continue
		}
		if n := len(f.GetMetric()); n != 2 {
			t.Errorf("gateway_requests_total has %d series, want 2", n)
		}
		return
	}
	t.Error("gateway_requests_total not gathered")
}

func TestGateway_CloudControlSharesBackend(t *testing.T) {
	gw := newGateway(t)

	resp := gw.Process(target("cloudcontrol.CreateResource",
		`{"TypeName":"AWS::SNS::Topic","DesiredState":{"TopicName":"alerts"}}`))
	if resp.StatusCode() != http.StatusOK {
		t.Fatalf("CreateResource status = %d, body = %s", resp.StatusCode(), resp.Body())
	}

	resp = gw.Process(target("sns.ListTopics", "{}"))
	if !strings.Contains(string(resp.Body()), "arn:aws:sns:us-east-1:000000000000:alerts") {
		t.Errorf("ListTopics body = %s", resp.Body())
	}
}

func TestGateway_InstancesAreIsolated(t *testing.T) {
	first := newGateway(t)
	second := newGateway(t)

	if resp := first.Process(target("sns.CreateTopic", `{"Name":"only-here"}`)); resp.StatusCode() != http.StatusOK {
		t.Fatalf("CreateTopic status = %d", resp.StatusCode())
	}

	resp := second.Process(target("sns.ListTopics", "{}"))
	if strings.Contains(string(resp.Body()), "only-here") {
		t.Errorf("second gateway sees first gateway's topic: %s", resp.Body())
	}

	first.Remove(handlers.NameRoute)
	request, _, _ := second.HandlerNames()
	if !slices.Contains(request, handlers.NameRoute) {
		t.Error("registration on one gateway leaked into another")
	}
}

func TestGateway_Reload(t *testing.T) {
	gw := newGateway(t)

	cfg := config.Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 1
	cfg.RateLimit.Burst = 1

	inFlight := gw.NewChain()
	if err := gw.Reload(cfg); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	request, _, _ := gw.HandlerNames()
	if !slices.Contains(request, handlers.NameRateLimit) {
		t.Errorf("request handlers after reload = %v", request)
	}
	names, _, _ := inFlight.Handlers().Names()
	if slices.Contains(names, handlers.NameRateLimit) {
		t.Error("existing chain picked up reloaded handlers")
	}
	if gw.Config() != cfg {
		t.Error("Config() does not return the reloaded config")
	}

	if err := gw.Reload(nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestGateway_ReloadKeepsCustomHandlers(t *testing.T) {
	gw := newGateway(t, WithHandlers(chain.Handlers{
		Request: []chain.Entry[chain.RequestHandler]{{Name: "only", Handler: finalizeWith(http.StatusOK)}},
	}))

	if err := gw.Reload(config.Default()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	request, _, _ := gw.HandlerNames()
	if !reflect.DeepEqual(request, []string{"only"}) {
		t.Errorf("request handlers = %v", request)
	}
}

func TestGateway_ReloadKeepsRuntimeEdits(t *testing.T) {
	gw := newGateway(t)

	var audited int
	gw.AppendResponseHandler("audit", chain.ResponseHandlerFunc(func(*chain.Chain, *chain.RequestContext, *chain.Response) error {
		audited++
		return nil
	}))
	gw.Remove(handlers.NameCORS)

	if err := gw.Reload(config.Default()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	_, response, _ := gw.HandlerNames()
	if response[len(response)-1] != "audit" {
		t.Errorf("response handlers after reload = %v, want audit last", response)
	}
	if slices.Contains(response, handlers.NameCORS) {
		t.Errorf("removed handler came back on reload: %v", response)
	}

	gw.Process(target("sns.ListTopics", "{}"))
	if audited != 1 {
		t.Errorf("audit ran %d times, want 1", audited)
	}

	// A removed name appended again replaces the built entry.
	gw.Remove("audit")
	gw.AppendResponseHandler(handlers.NameCORS, handlers.CORS(nil))
	if err := gw.Reload(config.Default()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	_, response, _ = gw.HandlerNames()
	if slices.Contains(response, "audit") {
		t.Errorf("audit survived removal: %v", response)
	}
	if slices.Index(response, handlers.NameCORS) != len(response)-1 {
		t.Errorf("response handlers = %v, want a single cors entry at the end", response)
	}
}

func TestGateway_ReloadRacesWithAppend(t *testing.T) {
	gw := newGateway(t)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			gw.AppendRequestHandler(fmt.Sprint("extra-", i), finalizeWith(http.StatusOK))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			if err := gw.Reload(config.Default()); err != nil {
				t.Errorf("Reload() error = %v", err)
			}
		}
	}()
	wg.Wait()

	request, _, _ := gw.HandlerNames()
	for i := 0; i < n; i++ {
		if !slices.Contains(request, fmt.Sprint("extra-", i)) {
			t.Fatalf("extra-%d lost; request handlers = %v", i, request)
		}
	}
}

func TestGateway_SetHandlersSurvivesReload(t *testing.T) {
	gw := newGateway(t)
	gw.SetHandlers(chain.Handlers{
		Request: []chain.Entry[chain.RequestHandler]{{Name: "only", Handler: finalizeWith(http.StatusOK)}},
	})

	if err := gw.Reload(config.Default()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	request, _, _ := gw.HandlerNames()
	if !reflect.DeepEqual(request, []string{"only"}) {
		t.Errorf("request handlers = %v", request)
	}
}

func TestGateway_SQLiteStore(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Type = "sqlite"
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "data", "gateway.db")

	gw := newGateway(t, WithConfig(cfg))

	req := target("sns.ListTopics", "{}")
	req.Header.Set(handlers.RequestIDHeader, "sqlite-1")
	gw.Process(req)

	list, err := gw.store.List(context.Background(), storage.ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].RequestID != "sqlite-1" {
		t.Errorf("List() = %+v", list)
	}
}

func TestGateway_Start_And_Shutdown(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	gw, err := New(WithLogger(testutil.DiscardLogger()), WithConfigFile(configPath))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := gw.Start(ctx); err == nil {
		t.Error("second Start() must fail")
	}

	_, port, err := net.SplitHostPort(gw.Addr())
	if err != nil {
		t.Fatalf("Addr() = %q: %v", gw.Addr(), err)
	}
	base := fmt.Sprintf("http://127.0.0.1:%s", port)

	resp, err := http.Get(base + "/_gateway/health")
	if err != nil {
		t.Fatalf("health request error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	if err := os.WriteFile(configPath, []byte("server:\n  port: 0\nrate_limit:\n  enabled: true\n  requests_per_second: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		request, _, _ := gw.HandlerNames()
		if slices.Contains(request, handlers.NameRateLimit) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for config reload")
		}
		time.Sleep(20 * time.Millisecond)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if gw.Addr() != "" {
		t.Errorf("Addr() after shutdown = %q", gw.Addr())
	}
}
