package chain

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponse_Defaults(t *testing.T) {
	resp := NewResponse()
	if resp.Status() != 0 {
		t.Errorf("Status() = %d, want 0", resp.Status())
	}
	if resp.StatusCode() != http.StatusOK {
		t.Errorf("StatusCode() = %d, want 200", resp.StatusCode())
	}
	if resp.Finalized() {
		t.Error("new response must not be finalized")
	}
}

func TestResponse_SetJSON(t *testing.T) {
	resp := NewResponse()
	if err := resp.SetJSON(http.StatusCreated, map[string]string{"TopicArn": "arn"}); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}
	if resp.Status() != http.StatusCreated {
		t.Errorf("status = %d", resp.Status())
	}
	if got := string(resp.Body()); got != `{"TopicArn":"arn"}` {
		t.Errorf("body = %s", got)
	}
	if resp.Header().Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}
}

func TestResponse_ResetKeepsFinalized(t *testing.T) {
	resp := NewResponse()
	resp.SetStatus(http.StatusTeapot)
	resp.Header().Set("X-Test", "1")
	_, _ = resp.Write([]byte("partial"))
	resp.Finalize()

	resp.Reset()

	if resp.Status() != 0 || len(resp.Body()) != 0 || resp.Header().Get("X-Test") != "" {
		t.Errorf("Reset left state behind: status=%d body=%q", resp.Status(), resp.Body())
	}
	if !resp.Finalized() {
		t.Error("Reset must not clear finalized")
	}
}

func TestResponse_WriteTo(t *testing.T) {
	resp := NewResponse()
	resp.SetStatus(http.StatusAccepted)
	resp.Header().Add("X-Multi", "a")
	resp.Header().Add("X-Multi", "b")
	_, _ = resp.Write([]byte("hello"))

	rec := httptest.NewRecorder()
	if err := resp.WriteTo(rec); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	if rec.Code != http.StatusAccepted {
		t.Errorf("code = %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if got := rec.Header().Values("X-Multi"); len(got) != 2 {
		t.Errorf("X-Multi = %v", got)
	}
	if rec.Header().Get("Content-Length") != "5" {
		t.Errorf("Content-Length = %q", rec.Header().Get("Content-Length"))
	}
}

func TestHandlers_CloneDoesNotAlias(t *testing.T) {
	h := Handlers{
		Request: make([]Entry[RequestHandler], 1, 4),
	}
	h.Request[0].Name = "a"

	cp := h.Clone()
	cp.Request[0].Name = "changed"
	cp.Request = append(cp.Request, Entry[RequestHandler]{Name: "b"})

	if h.Request[0].Name != "a" || len(h.Request) != 1 {
		t.Errorf("original mutated: %+v", h.Request)
	}
}

func TestFallbackResponse(t *testing.T) {
	r := FallbackResponse()
	if r.StatusCode() != http.StatusInternalServerError || !r.Finalized() {
		t.Fatalf("status = %d, finalized = %v", r.StatusCode(), r.Finalized())
	}
	if string(r.Body()) != string(fallbackBody) {
		t.Errorf("body = %s", r.Body())
	}
}
