package comfy

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KaKAOnz/Unreal-ChordGenerator/modules/workflow"
)

// errWaitTimedOut - the push wait saw neither terminal signal before the
// request timeout. Distinct from failure: the caller falls back to polling.
var errWaitTimedOut = errors.New("websocket wait timed out")

type wsEventKind int

const (
	wsEventProgress wsEventKind = iota
	wsEventDone
	wsEventFailed
)

type wsEvent struct {
	kind     wsEventKind
	progress float64
	err      error
}

// WaitForCompletion - block until the job reaches a terminal state, bounded by
// the request timeout. Push channel first when enabled; polling as fallback
// for timeout or unclassified failure. An explicit execution error from the
// push channel is surfaced directly - the server already reported the terminal
// state, polling cannot reveal a different one. Every completion path ends in
// one authoritative history fetch.
func (c *Client) WaitForCompletion(promptID, clientID string, onProgress func(float64)) (*workflow.History, error) {
	if c.useWebSocket {
		err := c.waitOnWebSocket(promptID, clientID, onProgress)
		if err == nil {
			return c.GetHistory(promptID)
		}

		var execErr *ExecutionError
		if errors.As(err, &execErr) {
			return nil, err
		}

		log.Printf("⚠️ [Comfy] WebSocket wait for %s did not complete (%v), falling back to polling", promptID, err)
	}

	return c.pollHistoryUntilComplete(promptID)
}

// waitOnWebSocket - open the push connection scoped by job and client id and
// race its terminal signals against the request timeout. The connection and
// its reader are owned by this call alone and torn down on every exit path.
func (c *Client) waitOnWebSocket(promptID, clientID string, onProgress func(float64)) error {
	wsURL := httpToWS(c.baseURL) + "/ws?clientId=" + url.QueryEscape(clientID)

	conn, resp, err := c.dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket connect failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	events := make(chan wsEvent, 16)
	done := make(chan struct{})
	defer func() {
		conn.Close()
		close(done)
	}()

	go readPushMessages(conn, promptID, events, done)

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-events:
			switch ev.kind {
			case wsEventProgress:
				// delivered here, on the waiting goroutine, never on the
				// socket-reader goroutine
				if onProgress != nil {
					onProgress(ev.progress)
				}
			case wsEventDone:
				return nil
			case wsEventFailed:
				return ev.err
			}
		case <-timer.C:
			return errWaitTimedOut
		}
	}
}

// readPushMessages - socket-reader goroutine. Classifies raw push messages
// into typed events; exits on the first terminal event, read error, or
// owner teardown.
func readPushMessages(conn *websocket.Conn, promptID string, events chan<- wsEvent, done <-chan struct{}) {
	send := func(ev wsEvent) bool {
		select {
		case events <- ev:
			return true
		case <-done:
			return false
		}
	}

	for {
		var msg pushMessage
		if err := conn.ReadJSON(&msg); err != nil {
			send(wsEvent{kind: wsEventFailed, err: fmt.Errorf("websocket error: %w", err)})
			return
		}

		switch msg.Type {
		case "execution_error":
			if msg.Data.PromptID != promptID {
				continue
			}
			send(wsEvent{kind: wsEventFailed, err: &ExecutionError{Message: composeExecutionError(msg)}})
			return

		case "executing":
			// an empty/absent node for this job is the server's own
			// end-of-job signal
			if msg.Data.PromptID == promptID && msg.Data.Node == "" {
				send(wsEvent{kind: wsEventDone})
				return
			}

		case "progress":
			if msg.Data.Max > 0 {
				if !send(wsEvent{kind: wsEventProgress, progress: msg.Data.Value / msg.Data.Max}) {
					return
				}
			}
		}
	}
}

func composeExecutionError(msg pushMessage) string {
	nodeLabel := msg.Data.NodeType
	if msg.Data.NodeID != "" {
		if nodeLabel == "" {
			nodeLabel = msg.Data.NodeID
		} else {
			nodeLabel = nodeLabel + " " + msg.Data.NodeID
		}
	}

	switch {
	case nodeLabel != "" && msg.Data.ExceptionMessage != "":
		return fmt.Sprintf("execution error (%s): %s", nodeLabel, msg.Data.ExceptionMessage)
	case nodeLabel != "":
		return fmt.Sprintf("execution error (%s)", nodeLabel)
	case msg.Data.ExceptionMessage != "":
		return "execution error: " + msg.Data.ExceptionMessage
	default:
		return "execution error"
	}
}

// pollHistoryUntilComplete - fetch history at the configured interval until
// the job reports an error or populated outputs, bounded by the request
// timeout. Each fetch checks the job-level error first so a failed job is
// never mistaken for a still-running one.
func (c *Client) pollHistoryUntilComplete(promptID string) (*workflow.History, error) {
	deadline := c.now().Add(c.requestTimeout)

	for c.now().Before(deadline) {
		history, err := c.GetHistory(promptID)
		if err == nil {
			if msg, failed := history.JobError(promptID); failed {
				return nil, &JobError{Message: msg}
			}
			if history.HasOutputs(promptID) {
				return history, nil
			}
		} else {
			log.Printf("⚠️ [Comfy] History poll for %s failed: %v", promptID, err)
		}

		c.sleep(c.pollInterval)
	}

	return nil, fmt.Errorf("polling history timed out")
}

func httpToWS(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL
}
