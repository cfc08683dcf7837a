package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/preforkdev/prefork/internal/logging"
)

func TestCollectorServesMetrics(t *testing.T) {
	c := New()
	c.SetWorkersRunning(3)
	c.SetWorkersTarget(4)
	c.IncSpawn()
	c.IncExit(true)
	c.IncExit(false)
	c.IncSignal("SIGTERM")
	c.SetBuildInfo("test", "go1.26")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"prefork_workers_running 3",
		"prefork_workers_target 4",
		"prefork_worker_spawn_total 1",
		`prefork_worker_exit_total{clean="true"} 1`,
		`prefork_worker_exit_total{clean="false"} 1`,
		`prefork_signal_total{signal="SIGTERM"} 1`,
		"prefork_info",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRequireAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	c := New()
	s := NewServer(ServerConfig{
		Listen:   "127.0.0.1:0",
		Username: "admin",
		Password: string(hash),
	}, c, logging.Discard())

	handler := s.requireAuth(c.Handler())

	// No credentials.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without creds = %d, want 401", rec.Code)
	}

	// Wrong password.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "wrong")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status with wrong password = %d, want 401", rec.Code)
	}

	// Valid credentials.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "secret")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status with valid creds = %d, want 200", rec.Code)
	}
}

func TestRequireAuthDisabledWithoutUsername(t *testing.T) {
	c := New()
	s := NewServer(ServerConfig{Listen: "127.0.0.1:0"}, c, logging.Discard())

	rec := httptest.NewRecorder()
	s.requireAuth(c.Handler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (auth disabled)", rec.Code)
	}
}

func TestCheckPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)

	tests := []struct {
		name  string
		plain string
		hash  string
		want  bool
	}{
		{name: "bcrypt match", plain: "pw", hash: string(hash), want: true},
		{name: "bcrypt mismatch", plain: "other", hash: string(hash), want: false},
		{name: "empty both", plain: "", hash: "", want: true},
		{name: "plaintext fallback", plain: "pw", hash: "pw", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkPassword(tt.plain, tt.hash); got != tt.want {
				t.Errorf("checkPassword(%q, ...) = %v, want %v", tt.plain, got, tt.want)
			}
		})
	}
}
