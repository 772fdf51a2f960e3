package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/jobchat/internal/proto"
	"github.com/vovakirdan/jobchat/internal/store"
)

func dialLive(ctx context.Context, env *testEnv, jobID, token string) (*websocket.Conn, *http.Response, error) {
	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/api/jobs/" + jobID + "/live?access_token=" + token
	return websocket.Dial(ctx, wsURL, nil)
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) proto.Frame {
	t.Helper()

	var frame proto.Frame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestLiveChannelStreamsNewMessages(t *testing.T) {
	env := startTestServer(t, nil)
	customer, photographer, jobID := env.seedJob(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := dialLive(ctx, env, jobID, photographer)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ready := readFrame(ctx, t, conn)
	if ready.Type != proto.OutboundTypeEvent || ready.Event != proto.EventReady {
		t.Fatalf("expected ready frame, got %+v", ready)
	}

	_, sent := postText(t, env, customer, jobID, "see you saturday", "tok")
	// Replays are not pushed twice.
	postText(t, env, customer, jobID, "see you saturday", "tok")
	_, second := postText(t, env, customer, jobID, "bring the drone", "")

	for _, want := range []proto.Message{sent, second} {
		frame := readFrame(ctx, t, conn)
		if frame.Event != proto.EventMessage {
			t.Fatalf("expected message event, got %+v", frame)
		}
		var got proto.Message
		if err := json.Unmarshal(frame.Data, &got); err != nil {
			t.Fatalf("decode message: %v", err)
		}
		if got.ID != want.ID || got.Text != want.Text || got.Sender.Name == "" {
			t.Fatalf("unexpected message %+v, want %+v", got, want)
		}
	}
}

func TestLiveChannelHidesForeignJobs(t *testing.T) {
	env := startTestServer(t, nil)
	_, _, jobID := env.seedJob(t)
	stranger, _ := env.register(t, "stranger@example.com", store.RoleCustomer)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := dialLive(ctx, env, jobID, stranger)
	if err == nil {
		t.Fatal("expected dial to fail for a non-participant")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %+v", resp)
	}

	_, resp, err = dialLive(ctx, env, jobID, "bogus")
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %v %+v", err, resp)
	}
}
