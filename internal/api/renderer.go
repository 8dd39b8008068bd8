package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goodtune/kidsfeed/internal/playback"
	"github.com/goodtune/kidsfeed/internal/session"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Origins are enforced by the CORS configuration for the HTTP API; the
// socket accepts the same renderers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// rendererSocket attaches a browser renderer to a session. Commands are
// written as JSON text frames and events are read the same way.
func (s *Server) rendererSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["session"]

	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	commands, err := sess.Bridge().Attach()
	if err != nil {
		if errors.Is(err, session.ErrRendererAttached) {
			writeError(w, http.StatusConflict, "A renderer is already attached to this session")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to attach renderer")
		return
	}
	defer sess.Bridge().Detach()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.logger.With().Str("session_id", id).Logger()
	logger.Info().Msg("Renderer attached")

	// The renderer may have missed earlier state commands.
	snap := playback.SnapshotOf(sess.Engine().State())
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(playback.Command{Type: playback.CommandState, State: &snap}); err != nil {
		logger.Debug().Err(err).Msg("Failed to write initial state")
		return
	}

	readerDone := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case cmd, ok := <-commands:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
					return
				}
				if err := conn.WriteJSON(cmd); err != nil {
					logger.Debug().Err(err).Msg("Failed to write command")
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-readerDone:
				return
			}
		}
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer close(readerDone)
		for {
			var ev playback.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug().Err(err).Msg("Renderer read failed")
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			if err := s.sessions.HandleEvent(id, ev); err != nil {
				logger.Debug().Err(err).Str("event", string(ev.Type)).Msg("Renderer event rejected")
				if errors.Is(err, session.ErrNotFound) {
					return
				}
			}
		}
	}()

	select {
	case <-writerDone:
	case <-readerDone:
	}
	conn.Close()
	<-writerDone
	<-readerDone
	logger.Info().Msg("Renderer detached")
}
