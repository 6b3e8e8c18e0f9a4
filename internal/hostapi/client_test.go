package hostapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestListServers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token123" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/servers" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"servers":[{"id":1,"name":"web-1","ip_address":"10.0.0.1"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token123")
	servers, err := c.ListServers(context.Background())
	if err != nil {
		t.Fatalf("list servers: %v", err)
	}
	if len(servers) != 1 || servers[0].Name != "web-1" {
		t.Fatalf("unexpected servers: %+v", servers)
	}
}

func TestCreateSite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/servers/1/sites" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"site":{"id":7,"server_id":1,"name":"example.com","status":"installing"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token123")
	site, err := c.CreateSite(context.Background(), 1, CreateSiteRequest{Domain: "example.com", ProjectType: "php"})
	if err != nil {
		t.Fatalf("create site: %v", err)
	}
	if site.ID != 7 {
		t.Fatalf("unexpected site: %+v", site)
	}
}

func TestNon2xxCarriesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"domain already taken"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "token123")
	err := c.Deploy(context.Background(), 1, 7)
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if !strings.Contains(err.Error(), "domain already taken") {
		t.Fatalf("error should carry the response body: %v", err)
	}
}
