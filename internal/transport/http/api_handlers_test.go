package http

import (
	"net/http"
	"testing"

	"github.com/vovakirdan/jobchat/internal/proto"
	"github.com/vovakirdan/jobchat/internal/store"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	status, body := env.do(t, http.MethodGet, "/health", "", nil)
	if status != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected health response: %d %q", status, body)
	}
}

func TestRegisterLoginAndMe(t *testing.T) {
	env := startTestServer(t, nil)

	register := proto.RegisterRequest{
		Email:       "alice@example.com",
		Password:    "password123",
		DisplayName: "Alice",
		Role:        "photographer",
	}
	status, body := env.do(t, http.MethodPost, "/api/register", "", register)
	if status != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", status, body)
	}
	registered := decode[proto.AuthResponse](t, body)
	if registered.Token == "" || registered.User.Role != "photographer" {
		t.Fatalf("unexpected register response %+v", registered)
	}

	if status, _ := env.do(t, http.MethodPost, "/api/register", "", register); status != http.StatusConflict {
		t.Errorf("expected status 409 for duplicate email, got %d", status)
	}

	bad := register
	bad.Role = "admin"
	if status, _ := env.do(t, http.MethodPost, "/api/register", "", bad); status != http.StatusBadRequest {
		t.Errorf("expected status 400 for unknown role, got %d", status)
	}

	if status, _ := env.do(t, http.MethodPost, "/api/login", "", proto.LoginRequest{Email: "alice@example.com", Password: "nope"}); status != http.StatusUnauthorized {
		t.Errorf("expected status 401 for wrong password, got %d", status)
	}

	status, body = env.do(t, http.MethodPost, "/api/login", "", proto.LoginRequest{Email: "alice@example.com", Password: "password123"})
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", status, body)
	}
	login := decode[proto.AuthResponse](t, body)

	status, body = env.do(t, http.MethodGet, "/api/me", login.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", status, body)
	}
	if me := decode[proto.User](t, body); me.ID != registered.User.ID || me.DisplayName != "Alice" {
		t.Fatalf("unexpected user %+v", me)
	}
}

func TestAuthMiddlewareRejectsBadCredentials(t *testing.T) {
	env := startTestServer(t, nil)
	token, _ := env.register(t, "bob@example.com", store.RoleCustomer)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", "", http.StatusUnauthorized},
		{"bearer header", "Bearer " + token, "", http.StatusOK},
		{"query parameter", "", "?access_token=" + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			status, body := env.send(t, req)
			if status != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, status, body)
			}
			if status == http.StatusUnauthorized {
				if resp := decode[proto.ErrorResponse](t, body); resp.Code != proto.CodeUnauthorized {
					t.Fatalf("unexpected error body %+v", resp)
				}
			}
		})
	}
}
