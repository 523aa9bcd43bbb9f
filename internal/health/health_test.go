package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/sonata/pkg/sonata"
)

func doRequest(t *testing.T, h http.HandlerFunc, path string) (*http.Response, result) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	res := rec.Result()
	defer res.Body.Close()

	var body result
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res, body
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := New()
	res, body := doRequest(t, h.Healthz, "/healthz")
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	if body.Status != "ok" {
		t.Errorf("body status = %q, want ok", body.Status)
	}
}

func TestReadyzAllChecksPass(t *testing.T) {
	h := New(
		Checker{Name: "a", Check: func(context.Context) error { return nil }},
		Checker{Name: "b", Check: func(context.Context) error { return nil }},
	)
	res, body := doRequest(t, h.Readyz, "/readyz")
	if res.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	if body.Checks["a"] != "ok" || body.Checks["b"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyzFailingCheck(t *testing.T) {
	h := New(
		Checker{Name: "good", Check: func(context.Context) error { return nil }},
		Checker{Name: "bad", Check: func(context.Context) error { return errors.New("boom") }},
	)
	res, body := doRequest(t, h.Readyz, "/readyz")
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", res.StatusCode)
	}
	if body.Status != "fail" {
		t.Errorf("body status = %q, want fail", body.Status)
	}
	if body.Checks["bad"] != "fail: boom" {
		t.Errorf("bad check = %q", body.Checks["bad"])
	}
	if body.Checks["good"] != "ok" {
		t.Errorf("good check = %q", body.Checks["good"])
	}
}

func TestNodesConnectedEmptyPool(t *testing.T) {
	pool := sonata.New(sonata.Config{UserID: "1"})
	c := NodesConnected(pool)
	if c.Name != "nodes" {
		t.Errorf("Name = %q, want nodes", c.Name)
	}
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check() = nil, want error with no connected nodes")
	}
}
