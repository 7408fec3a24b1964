package http_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	apihttp "github.com/artpar/speechquota/adapters/http"
)

func dialStream(t *testing.T, srv *httptest.Server, accountID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/wait/stream"
	header := http.Header{}
	header.Set(apihttp.AccountHeader, accountID)

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) apihttp.StreamMessage {
	t.Helper()
	var msg apihttp.StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return msg
}

func TestWaitStream_CountsDownToIdle(t *testing.T) {
	env := setupTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	waits := env.service.Waits()
	sched := waits.Acquire("acct-1")
	defer waits.Release("acct-1")
	sched.Start(2)

	conn := dialStream(t, srv, "acct-1")

	msg := readFrame(t, conn)
	if msg.Type != "wait" || msg.Wait.RemainingSeconds != 2 || msg.SessionID != "ws_1" {
		t.Fatalf("first frame = %+v", msg)
	}

	env.clock.BlockUntilTickers(1)
	sched.Tick()
	env.clock.Advance(time.Second)

	msg = readFrame(t, conn)
	if msg.Type != "wait" || msg.Wait.RemainingSeconds != 1 {
		t.Fatalf("second frame = %+v", msg)
	}

	sched.Tick()
	env.clock.Advance(time.Second)

	msg = readFrame(t, conn)
	if msg.Type != "done" || msg.Wait.IsWaiting {
		t.Fatalf("final frame = %+v", msg)
	}

	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}

func TestWaitStream_IdleAccountClosesImmediately(t *testing.T) {
	env := setupTestEnv(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialStream(t, srv, "acct-1")

	msg := readFrame(t, conn)
	if msg.Type != "done" || msg.Wait.IsWaiting {
		t.Fatalf("frame = %+v", msg)
	}
}

func TestWaitStream_RequiresAccount(t *testing.T) {
	env := setupTestEnv(t, nil)

	rec := env.do("GET", "/v1/wait/stream", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
