package web

import (
	"net/http"
	"time"

	"github.com/book-expert/inference-studio/internal/session"
	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleWebsocket pushes the workspace state to the page, once on connect and
// again whenever one of its forms changes.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	workspace := s.workspace(w, r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed: %v", err)

		return
	}
	defer conn.Close()

	closed := make(chan struct{})

	go func() {
		defer close(closed)

		for {
			_, _, readErr := conn.ReadMessage()
			if readErr != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	lastStamp := ""

	for {
		stop := make(chan struct{})
		changed := watch(workspace, stop)

		state := snapshotState(workspace)
		if state.Stamp != lastStamp {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

			err = conn.WriteJSON(state)
			if err != nil {
				close(stop)
				s.log.Warn("Websocket write failed: %v", err)

				return
			}

			lastStamp = state.Stamp
		}

		alive := waitForChange(conn, changed, closed, ping.C)
		close(stop)

		if !alive {
			return
		}
	}
}

// waitForChange blocks until changed fires, pinging the peer meanwhile. It
// reports false once the connection is gone.
func waitForChange(conn *websocket.Conn, changed, closed <-chan struct{}, ping <-chan time.Time) bool {
	for {
		select {
		case <-changed:
			return true
		case <-ping:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			if err != nil {
				return false
			}
		case <-closed:
			return false
		}
	}
}

// watch returns a channel closed on the next change of any form, or never if
// stop is closed first.
func watch(workspace *session.Workspace, stop <-chan struct{}) <-chan struct{} {
	classifier := workspace.Classifier.Changed()
	batch := workspace.Batch.Changed()
	speech := workspace.Speech.Changed()

	merged := make(chan struct{})

	go func() {
		select {
		case <-classifier:
		case <-batch:
		case <-speech:
		case <-stop:
			return
		}

		close(merged)
	}()

	return merged
}
