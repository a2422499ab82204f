package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sakif/pyrelay/internal/executor"
	"github.com/sakif/pyrelay/internal/executor/interactive"
	"github.com/sakif/pyrelay/internal/relay"
)

// Message types on /ws/execute.
const (
	msgRun          = "run"
	msgInput        = "input"
	msgInputRequest = "input_request"
	msgResult       = "result"
	msgError        = "error"
)

const wsWriteTimeout = 10 * time.Second

// StreamExecutor is what the WebSocket handler needs from the orchestrator.
type StreamExecutor interface {
	ExecuteWithHooks(ctx context.Context, req executor.ExecutionRequest, hooks interactive.Hooks) (*executor.ExecutionResult, error)
	SupplyInput(sessionID, value string) error
}

// StreamHandler runs programs over a WebSocket, streaming output as it is
// produced instead of returning it at the end.
//
// PROTOCOL:
//
//	client → {"type":"run","code":"..."}
//	server → {"type":"stdout","content":"name: "}
//	server → {"type":"input_request"}
//	client → {"type":"input","content":"bob"}
//	server → {"type":"stdout","content":"hi bob\n"}
//	server → {"type":"result","output":"name: hi bob\n","error":null}
//
// Each connection gets its own relay session, so input can never reach a
// program started by another connection. Closing the socket cancels the
// running program.
type StreamHandler struct {
	exec     StreamExecutor
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a StreamHandler. With no allowedOrigins only
// same-origin browsers may connect (gorilla's default check).
func NewStreamHandler(exec StreamExecutor, allowedOrigins []string, logger *slog.Logger) *StreamHandler {
	h := &StreamHandler{
		exec:   exec,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = originChecker(allowedOrigins)
	}
	return h
}

type wsIncoming struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Content string `json:"content,omitempty"`
}

type wsOutgoing struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

type wsResult struct {
	Type   string  `json:"type"`
	Output *string `json:"output"`
	Error  *string `json:"error"`
}

// HandleStream upgrades the connection and serves it until the client leaves.
//
// HTTP: GET /ws/execute
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	sessionID := "ws-" + uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// gorilla allows one concurrent writer; output hooks fire from the
	// evaluator goroutine while the read loop may be answering input.
	var wmu sync.Mutex
	send := func(v any) {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			h.logger.Debug("websocket write failed", slog.String("error", err.Error()))
			cancel()
		}
	}

	var runDone chan struct{}
	running := func() bool {
		if runDone == nil {
			return false
		}
		select {
		case <-runDone:
			return false
		default:
			return true
		}
	}

	h.logger.Debug("websocket connected", slog.String("session", sessionID))

	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			break
		}

		switch msg.Type {
		case msgRun:
			if running() {
				send(wsOutgoing{Type: msgError, Content: "a program is already running"})
				continue
			}
			runDone = make(chan struct{})
			go h.run(ctx, sessionID, msg.Code, send, runDone)

		case msgInput:
			if err := h.exec.SupplyInput(sessionID, msg.Content); err != nil {
				content := err.Error()
				if !errors.Is(err, relay.ErrNoActiveSession) {
					content = "input could not be delivered"
				}
				send(wsOutgoing{Type: msgError, Content: content})
			}

		default:
			send(wsOutgoing{Type: msgError, Content: "unknown message type"})
		}
	}

	// Client is gone: stop the program and wait so its hooks do not write
	// to a closed connection.
	cancel()
	if runDone != nil {
		<-runDone
	}
	h.logger.Debug("websocket closed", slog.String("session", sessionID))
}

func (h *StreamHandler) run(ctx context.Context, sessionID, code string, send func(any), done chan<- struct{}) {
	defer close(done)

	hooks := interactive.Hooks{
		OnOutput: func(stream string, chunk []byte) {
			send(wsOutgoing{Type: stream, Content: string(chunk)})
		},
		OnInputRequest: func() {
			send(wsOutgoing{Type: msgInputRequest})
		},
	}

	res, err := h.exec.ExecuteWithHooks(ctx, executor.ExecutionRequest{Code: code, SessionID: sessionID}, hooks)
	if err != nil {
		h.logger.Error("streamed execution failed", slog.String("error", err.Error()))
		send(wsOutgoing{Type: msgError, Content: "execution failed"})
		return
	}
	send(wsResult{Type: msgResult, Output: res.Output, Error: res.Error})
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin.
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Scheme+"://"+u.Host]
		return ok
	}
}
