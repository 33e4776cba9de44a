package comfy

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const completedHistory = `{
	"job-1": {
		"outputs": {"9": {"images": [{"filename": "a.png", "subfolder": "", "type": "output"}]}},
		"status": {"status_str": "success", "completed": true}
	}
}`

// comfyStub - a fake backend exposing /ws and /history. pushMessages are sent
// in order once a client subscribes; history responses come from the queue,
// repeating the last one.
type comfyStub struct {
	t            *testing.T
	pushes       []string
	histories    []string
	historyCalls atomic.Int32
	holdSocket   bool
	closeSocket  bool
}

func (s *comfyStub) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.t.Errorf("upgrade: %v", err)
			return
		}
		if s.closeSocket {
			conn.Close()
			return
		}
		for _, push := range s.pushes {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(push)); err != nil {
				return
			}
		}
		if s.holdSocket {
			// keep the connection open; the client times out on its own
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	})

	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		call := int(s.historyCalls.Add(1)) - 1
		if call >= len(s.histories) {
			call = len(s.histories) - 1
		}
		fmt.Fprint(w, s.histories[call])
	})

	return mux
}

// waitTestClient - websocket enabled, fake clock wired for the polling path
func waitTestClient(baseURL string, timeout, poll time.Duration) (*Client, *atomic.Int32) {
	c := newTestClient(baseURL)
	c.useWebSocket = true
	c.requestTimeout = timeout
	c.pollInterval = poll

	var sleeps atomic.Int32
	clock := time.Now()
	c.now = func() time.Time {
		return clock
	}
	c.sleep = func(d time.Duration) {
		sleeps.Add(1)
		clock = clock.Add(d)
	}
	return c, &sleeps
}

func TestWaitCompletesOverWebSocket(t *testing.T) {
	stub := &comfyStub{
		t: t,
		pushes: []string{
			`{"type": "progress", "data": {"value": 5, "max": 10}}`,
			`{"type": "executing", "data": {"prompt_id": "job-1", "node": "9"}}`,
			`{"type": "executing", "data": {"prompt_id": "job-1", "node": null}}`,
		},
		histories: []string{completedHistory},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c, _ := waitTestClient(srv.URL, 5*time.Second, 50*time.Millisecond)

	var progress []float64
	history, err := c.WaitForCompletion("job-1", "client-1", func(p float64) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if !history.HasOutputs("job-1") {
		t.Error("returned history has no outputs")
	}

	// exactly one authoritative fetch, no polling
	if calls := stub.historyCalls.Load(); calls != 1 {
		t.Errorf("history calls = %d, want 1", calls)
	}
	if len(progress) != 1 || progress[0] != 0.5 {
		t.Errorf("progress = %v, want [0.5]", progress)
	}
}

func TestWaitIgnoresOtherJobsSignals(t *testing.T) {
	stub := &comfyStub{
		t: t,
		pushes: []string{
			`{"type": "executing", "data": {"prompt_id": "other-job", "node": null}}`,
			`{"type": "execution_error", "data": {"prompt_id": "other-job", "exception_message": "boom"}}`,
			`{"type": "executing", "data": {"prompt_id": "job-1", "node": null}}`,
		},
		histories: []string{completedHistory},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c, _ := waitTestClient(srv.URL, 5*time.Second, 50*time.Millisecond)

	if _, err := c.WaitForCompletion("job-1", "client-1", nil); err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
}

func TestWaitExecutionErrorSkipsPolling(t *testing.T) {
	stub := &comfyStub{
		t: t,
		pushes: []string{
			`{"type": "execution_error", "data": {"prompt_id": "job-1", "node_type": "KSampler", "node_id": "3", "exception_message": "CUDA out of memory"}}`,
		},
		histories: []string{completedHistory},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c, _ := waitTestClient(srv.URL, 5*time.Second, 50*time.Millisecond)

	_, err := c.WaitForCompletion("job-1", "client-1", nil)

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want ExecutionError", err)
	}
	want := "execution error (KSampler 3): CUDA out of memory"
	if execErr.Message != want {
		t.Errorf("message = %q, want %q", execErr.Message, want)
	}

	// the server already classified the job; polling is never entered
	if calls := stub.historyCalls.Load(); calls != 0 {
		t.Errorf("history calls = %d, want 0", calls)
	}
}

func TestWaitTimeoutFallsBackToPolling(t *testing.T) {
	stub := &comfyStub{
		t:          t,
		holdSocket: true,
		histories: []string{
			`{}`,
			`{"job-1": {"outputs": {}}}`,
			completedHistory,
		},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c, sleeps := waitTestClient(srv.URL, 300*time.Millisecond, 50*time.Millisecond)

	history, err := c.WaitForCompletion("job-1", "client-1", nil)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if !history.HasOutputs("job-1") {
		t.Error("returned history has no outputs")
	}

	if calls := stub.historyCalls.Load(); calls != 3 {
		t.Errorf("history calls = %d, want 3", calls)
	}
	if got := sleeps.Load(); got != 2 {
		t.Errorf("sleeps = %d, want 2 (one per incomplete poll)", got)
	}
}

func TestWaitSocketDropFallsBackToPolling(t *testing.T) {
	stub := &comfyStub{
		t:           t,
		closeSocket: true,
		histories:   []string{completedHistory},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c, _ := waitTestClient(srv.URL, 5*time.Second, 50*time.Millisecond)

	history, err := c.WaitForCompletion("job-1", "client-1", nil)
	if err != nil {
		t.Fatalf("WaitForCompletion after socket drop: %v", err)
	}
	if !history.HasOutputs("job-1") {
		t.Error("returned history has no outputs")
	}
}

func TestWaitDisabledWebSocketPollsDirectly(t *testing.T) {
	stub := &comfyStub{
		t:         t,
		histories: []string{completedHistory},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c, _ := waitTestClient(srv.URL, 5*time.Second, 50*time.Millisecond)
	c.useWebSocket = false

	history, err := c.WaitForCompletion("job-1", "client-1", nil)
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if !history.HasOutputs("job-1") {
		t.Error("returned history has no outputs")
	}
}

func TestPollSurfacesJobError(t *testing.T) {
	stub := &comfyStub{
		t: t,
		histories: []string{
			`{"job-1": {"status": {"status_str": "error", "messages": ["node 12 failed"]}}}`,
		},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c, _ := waitTestClient(srv.URL, 5*time.Second, 50*time.Millisecond)
	c.useWebSocket = false

	_, err := c.WaitForCompletion("job-1", "client-1", nil)

	var jobErr *JobError
	if !errors.As(err, &jobErr) {
		t.Fatalf("err = %v, want JobError", err)
	}
	if jobErr.Message != "ComfyUI status: error (node 12 failed)" {
		t.Errorf("message = %q", jobErr.Message)
	}
}

func TestPollTimesOut(t *testing.T) {
	stub := &comfyStub{
		t:         t,
		histories: []string{`{}`},
	}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c, sleeps := waitTestClient(srv.URL, 200*time.Millisecond, 50*time.Millisecond)
	c.useWebSocket = false

	if _, err := c.WaitForCompletion("job-1", "client-1", nil); err == nil {
		t.Fatal("WaitForCompletion: want timeout error")
	}
	if got := sleeps.Load(); got == 0 {
		t.Error("polling never slept before timing out")
	}
}
