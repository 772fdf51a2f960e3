package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/auth"
	"github.com/vovakirdan/jobchat/internal/config"
	"github.com/vovakirdan/jobchat/internal/objstore"
	"github.com/vovakirdan/jobchat/internal/proto"
	"github.com/vovakirdan/jobchat/internal/push"
	"github.com/vovakirdan/jobchat/internal/store"
	"github.com/vovakirdan/jobchat/internal/store/sqlite"
)

type testEnv struct {
	ts     *httptest.Server
	store  store.Store
	auth   *auth.Service
	hub    *push.Hub
	bucket *objstore.Local
}

func startTestServer(t *testing.T, tweak func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.SendRatePerSecond = 0
	if tweak != nil {
		tweak(&cfg)
	}

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	disabledLogger := zerolog.New(nil)

	hub := push.NewHub(cfg.PushBuffer, &disabledLogger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	bucket, err := objstore.NewLocal(t.TempDir(), "/objects")
	if err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	server := NewServer(&cfg, Deps{Auth: authService, Store: st, Broker: hub, Bucket: bucket}, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, auth: authService, hub: hub, bucket: bucket}
}

// register creates an account and returns its token and id.
func (e *testEnv) register(t *testing.T, email string, role store.Role) (string, string) {
	t.Helper()

	token, user, err := e.auth.Register(context.Background(), auth.Registration{
		Email:       email,
		Password:    "password123",
		DisplayName: email,
		Role:        role,
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return token, user.ID
}

// seedJob books a photographer and returns both tokens and the job id.
func (e *testEnv) seedJob(t *testing.T) (customer, photographer, jobID string) {
	t.Helper()

	customer, customerID := e.register(t, "customer@example.com", store.RoleCustomer)
	photographer, photographerID := e.register(t, "photographer@example.com", store.RolePhotographer)
	job, err := e.store.CreateJob(context.Background(), store.NewJob{
		PhotographerID: photographerID,
		CustomerID:     customerID,
		EventType:      "wedding",
		EventDate:      time.Now().Add(30 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return customer, photographer, job.ID
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func postText(t *testing.T, e *testEnv, token, jobID, text, clientToken string) (int, proto.Message) {
	t.Helper()

	status, body := e.do(t, http.MethodPost, "/api/jobs/"+jobID+"/messages", token, proto.CreateMessageRequest{
		Text:        text,
		ClientToken: clientToken,
	})
	if status >= 300 {
		return status, proto.Message{}
	}
	return status, decode[proto.Message](t, body)
}
