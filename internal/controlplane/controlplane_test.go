package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/Toyota-Connected-India/red-monkey/internal/registry"
)

func newTestRouter() *Router {
	return NewRouter(registry.New(), zap.NewNop())
}

func doRequest(t *testing.T, r *Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateFaultSuccess(t *testing.T) {
	r := newTestRouter()
	rec := doRequest(t, r, http.MethodPost, "/fault", planJSON{
		Name: "d", FaultType: "delay", DurationMs: 200, Command: "get",
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var got planJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.FaultType != "Delay" {
		t.Errorf("expected canonical casing Delay, got %q", got.FaultType)
	}
	if got.Command != "GET" {
		t.Errorf("expected upper-cased command, got %q", got.Command)
	}
}

func TestCreateFaultInvalidReturns400(t *testing.T) {
	r := newTestRouter()
	rec := doRequest(t, r, http.MethodPost, "/fault", planJSON{Name: "d", FaultType: "bogus", Command: "GET"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateFaultConflictReturns409(t *testing.T) {
	r := newTestRouter()
	doRequest(t, r, http.MethodPost, "/fault", planJSON{Name: "d", FaultType: "DropConn", Command: "GET"})
	rec := doRequest(t, r, http.MethodPost, "/fault", planJSON{Name: "other", FaultType: "DropConn", Command: "GET"})

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetFaultNotFoundReturns404(t *testing.T) {
	r := newTestRouter()
	rec := doRequest(t, r, http.MethodGet, "/fault/missing", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetFaultFound(t *testing.T) {
	r := newTestRouter()
	doRequest(t, r, http.MethodPost, "/fault", planJSON{Name: "d", FaultType: "DropConn", Command: "GET"})

	rec := doRequest(t, r, http.MethodGet, "/fault/d", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestListFaults(t *testing.T) {
	r := newTestRouter()
	doRequest(t, r, http.MethodPost, "/fault", planJSON{Name: "a", FaultType: "DropConn", Command: "GET"})
	doRequest(t, r, http.MethodPost, "/fault", planJSON{Name: "b", FaultType: "DropConn", Command: "SET"})

	rec := doRequest(t, r, http.MethodGet, "/faults", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got []planJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(got))
	}
}

func TestDeleteFaultNotFoundReturns404(t *testing.T) {
	r := newTestRouter()
	rec := doRequest(t, r, http.MethodDelete, "/fault/missing", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteFaultSuccess(t *testing.T) {
	r := newTestRouter()
	doRequest(t, r, http.MethodPost, "/fault", planJSON{Name: "d", FaultType: "DropConn", Command: "GET"})

	rec := doRequest(t, r, http.MethodDelete, "/fault/d", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodGet, "/fault/d", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected deleted plan to 404, got %d", rec.Code)
	}
}

func TestDeleteAllFaults(t *testing.T) {
	r := newTestRouter()
	doRequest(t, r, http.MethodPost, "/fault", planJSON{Name: "a", FaultType: "DropConn", Command: "GET"})
	doRequest(t, r, http.MethodPost, "/fault", planJSON{Name: "b", FaultType: "DropConn", Command: "SET"})

	rec := doRequest(t, r, http.MethodDelete, "/faults", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodGet, "/faults", nil)
	var got []planJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty registry after delete-all, got %d plans", len(got))
	}
}
