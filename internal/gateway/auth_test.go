package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthenticator(t *testing.T) {
	tests := []struct {
		name       string
		config     AuthConfig
		remoteAddr string
		header     string
		wantErr    bool
	}{
		{name: "none accepts all", config: AuthConfig{Type: AuthTypeNone}, remoteAddr: "10.0.0.1:1234"},
		{name: "empty type accepts all", config: AuthConfig{}, remoteAddr: "10.0.0.1:1234"},
		{name: "local ipv4", config: AuthConfig{Type: AuthTypeLocal}, remoteAddr: "127.0.0.1:5555"},
		{name: "local ipv6", config: AuthConfig{Type: AuthTypeLocal}, remoteAddr: "[::1]:5555"},
		{name: "local rejects remote", config: AuthConfig{Type: AuthTypeLocal}, remoteAddr: "192.168.1.5:5555", wantErr: true},
		{name: "token ok", config: AuthConfig{Type: AuthTypeAPIToken, Token: "abc"}, header: "Bearer abc"},
		{name: "token case-insensitive scheme", config: AuthConfig{Type: AuthTypeAPIToken, Token: "abc"}, header: "bearer abc"},
		{name: "token wrong", config: AuthConfig{Type: AuthTypeAPIToken, Token: "abc"}, header: "Bearer abd", wantErr: true},
		{name: "token missing", config: AuthConfig{Type: AuthTypeAPIToken, Token: "abc"}, wantErr: true},
		{name: "token basic scheme", config: AuthConfig{Type: AuthTypeAPIToken, Token: "abc"}, header: "Basic abc", wantErr: true},
		{name: "unknown type", config: AuthConfig{Type: "magic"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.remoteAddr != "" {
				req.RemoteAddr = tt.remoteAddr
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			err := NewAuthenticator(&tt.config).Authenticate(req)
			if (err != nil) != tt.wantErr {
				t.Errorf("Authenticate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticatorMiddleware(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	h := NewAuthenticator(&AuthConfig{Type: AuthTypeAPIToken, Token: "abc"}).Middleware(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized || called {
		t.Errorf("code = %d, called = %v", w.Code, called)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !called {
		t.Errorf("code = %d, called = %v", w.Code, called)
	}
}
