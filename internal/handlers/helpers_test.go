package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/config"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services/sns"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/testutil"
)

var testDefaults = config.DefaultsConfig{Account: "000000000000", Region: "us-east-1"}

func reqEntry(h chain.RequestHandler, name string) chain.Entry[chain.RequestHandler] {
	return chain.Entry[chain.RequestHandler]{Name: name, Handler: h}
}

func respEntry(h chain.ResponseHandler, name string) chain.Entry[chain.ResponseHandler] {
	return chain.Entry[chain.ResponseHandler]{Name: name, Handler: h}
}

func excEntry(h chain.ExceptionHandler, name string) chain.Entry[chain.ExceptionHandler] {
	return chain.Entry[chain.ExceptionHandler]{Name: name, Handler: h}
}

// translate is the exception list used by most tests.
func translate() []chain.Entry[chain.ExceptionHandler] {
	return []chain.Entry[chain.ExceptionHandler]{excEntry(TranslateFault(), NameTranslateFault)}
}

func newTargetRequest(target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/", r)
	if target != "" {
		httpReq.Header.Set(TargetHeader, target)
	}
	return httpReq
}

func run(t *testing.T, handlers chain.Handlers, httpReq *http.Request) (*chain.Chain, *chain.RequestContext, *chain.Response) {
	t.Helper()
	c := chain.New(handlers, testutil.DiscardLogger())
	ctx := chain.NewRequestContext(httpReq)
	out := chain.NewResponse()
	if err := c.Handle(ctx, out); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	return c, ctx, out
}

func newSNSRegistry() *services.Registry {
	return services.NewRegistry(sns.NewService(sns.NewBackend()))
}

func decodeError(t *testing.T, r *chain.Response) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(r.Body(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", r.Body(), err)
	}
	return body
}
