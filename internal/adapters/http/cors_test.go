package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"testing"

	"github.com/jobrunner/flotsam/internal/config"
)

func TestExtractHost(t *testing.T) {
	tests := []struct {
		origin string
		want   string
	}{
		{"https://example.com", "example.com"},
		{"https://example.com:8080", "example.com"},
		{"https://example.com/path/to/resource", "example.com"},
		{"https://example.com:443/path", "example.com"},
		{"https://deep.sub.example.com", "deep.sub.example.com"},
		{"http://localhost:3000", "localhost"},
		{"http://192.168.1.1:8080", "192.168.1.1"},
		{"example.com", "example.com"},
	}
	for _, tt := range tests {
		if got := extractHost(tt.origin); got != tt.want {
			t.Errorf("extractHost(%q) = %q; want %q", tt.origin, got, tt.want)
		}
	}
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		pattern string
		want    bool
	}{
		{"exact", "https://example.com", "https://example.com", true},
		{"scheme differs", "http://example.com", "https://example.com", false},
		{"wildcard subdomain", "https://app.example.com", "*.example.com", true},
		{"wildcard deep subdomain", "https://a.b.example.com:8443", "*.example.com", true},
		{"wildcard excludes apex", "https://example.com", "*.example.com", false},
		{"wildcard suffix trick", "https://evilexample.com", "*.example.com", false},
		{"other domain", "https://other.com", "*.example.com", false},
		{"empty pattern", "https://example.com", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchOrigin(tt.origin, tt.pattern); got != tt.want {
				t.Errorf("matchOrigin(%q, %q) = %v; want %v", tt.origin, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	cfg := config.ServerConfig{CORS: config.CORSConfig{
		AllowedOrigins: []string{"https://ops.example.org", "*.dashboards.example.org"},
	}}

	tests := []struct {
		name       string
		method     string
		origin     string
		wantCode   int
		wantOrigin string
	}{
		{"allowed list request", http.MethodGet, "https://ops.example.org", http.StatusOK, "https://ops.example.org"},
		{"allowed wildcard", http.MethodGet, "https://sea.dashboards.example.org", http.StatusOK, "https://sea.dashboards.example.org"},
		{"preflight", http.MethodOptions, "https://ops.example.org", http.StatusNoContent, "https://ops.example.org"},
		{"foreign origin", http.MethodGet, "https://evil.com", http.StatusOK, ""},
		{"no origin", http.MethodGet, "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newMockJobService()
			srv := newTestServer(cfg, jobs, nil)

			req := newRequest(tt.method, "/api/v1/jobs", tt.origin)
			rr := record(srv, req)

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d; want %d", rr.Code, tt.wantCode)
			}
			h := rr.Header()
			if got := h.Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q; want %q", got, tt.wantOrigin)
			}
			if tt.wantOrigin == "" {
				return
			}
			if got := h.Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
				t.Errorf("Access-Control-Allow-Methods = %q", got)
			}
			if h.Get("Vary") != "Origin" || h.Get("Access-Control-Max-Age") != "86400" {
				t.Errorf("Vary = %q, Max-Age = %q", h.Get("Vary"), h.Get("Access-Control-Max-Age"))
			}
		})
	}
}

func TestCORSPreflightDoesNotSubmit(t *testing.T) {
	cfg := config.ServerConfig{CORS: config.CORSConfig{AllowedOrigins: []string{"https://ops.example.org"}}}
	jobs := newMockJobService()
	srv := newTestServer(cfg, jobs, nil)

	rr := record(srv, newRequest(http.MethodOptions, "/api/v1/jobs", "https://ops.example.org"))
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d; want %d", rr.Code, http.StatusNoContent)
	}
	if len(jobs.submitted) != 0 {
		t.Error("preflight must not reach the submit handler")
	}
}

func TestCORSDisabled(t *testing.T) {
	srv := newTestServer(config.ServerConfig{}, newMockJobService(), nil)

	rr := record(srv, newRequest(http.MethodGet, "/api/v1/jobs", "https://ops.example.org"))
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q without configured origins", got)
	}
}

func TestCORSConfig_Enabled(t *testing.T) {
	tests := []struct {
		origins []string
		want    bool
	}{
		{[]string{"https://example.com"}, true},
		{[]string{"https://example.com", "*.other.com"}, true},
		{[]string{}, false},
		{nil, false},
	}
	for _, tt := range tests {
		cfg := config.CORSConfig{AllowedOrigins: tt.origins}
		if got := cfg.Enabled(); got != tt.want {
			t.Errorf("Enabled(%v) = %v; want %v", tt.origins, got, tt.want)
		}
	}
}
