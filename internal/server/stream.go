package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/malbeclabs/latencymap/internal/dashboard"
	"github.com/malbeclabs/latencymap/internal/metrics"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second

	MessageTypeSnapshot = "snapshot"
)

type StreamMessage struct {
	Type    string             `json:"type"`
	Payload dashboard.Snapshot `json:"payload"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host {
				return true
			}
			if slices.Contains(s.cfg.AllowedOrigins, origin) {
				return true
			}
			s.log.Warn("stream: rejected origin", "origin", origin)
			return false
		},
	}
}

// handleStream pushes the current snapshot on connect and every committed
// snapshot afterwards.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("[/api/stream]", "remote", r.RemoteAddr)

	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("stream: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.cfg.Dashboard.Subscribe()
	defer unsubscribe()

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()
	s.log.Debug("stream: client connected", "remote", r.RemoteAddr)

	// Drain client frames so close and pong control messages are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeSnapshot(conn, s.cfg.Dashboard.Snapshot()); err != nil {
		s.log.Debug("stream: write failed", "error", err)
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-closed:
			s.log.Debug("stream: client disconnected", "remote", r.RemoteAddr)
			return
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "controller stopped"),
					time.Now().Add(time.Second))
				return
			}
			if err := s.writeSnapshot(conn, snap); err != nil {
				s.log.Debug("stream: write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, snap dashboard.Snapshot) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(StreamMessage{Type: MessageTypeSnapshot, Payload: snap})
}
