package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegisterUsernameTaken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tags/register" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "username already exists"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Register("taken", "")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "amount must be a non-negative integer"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Secret = "test-secret"
	_, err := c.CreateReceipt("sig", "", "a", "b", "-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "amount must be a non-negative integer") {
		t.Fatalf("error does not carry server message: %v", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("error does not carry status: %v", err)
	}
}

func TestAPIErrorNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Lookup("anyone")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestBearerSecretSent(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"receipts": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.Secret = "my-secret"
	if _, err := c.ListReceipts(0, ""); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotAuth != "Bearer my-secret" {
		t.Fatalf("unexpected Authorization header: %q", gotAuth)
	}
}
