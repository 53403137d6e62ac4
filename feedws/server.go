// Package feedws carries the store's change feed over WebSocket, so a
// client's change bus can attach to a store hosted in another process.
package feedws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"peerchat/store"
)

// subscribeRequest is the single client-to-server frame: the scope of the
// stream the connection will carry.
type subscribeRequest struct {
	Table     store.Table `json:"table"`
	FilterCol string      `json:"filter_col"`
	FilterVal string      `json:"filter_val"`
}

// Server exposes one feed source at a WebSocket endpoint. Each connection
// carries exactly one subscription; events are forwarded as JSON RowEvents
// in emission order.
type Server struct {
	source   store.Source
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a feed server over the given source.
func NewServer(source store.Source, log zerolog.Logger) *Server {
	return &Server{source: source, log: log}
}

// ServeHTTP upgrades the connection, reads the subscribe request, and
// streams matching events until either side closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	var req subscribeRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.log.Warn().Err(err).Msg("bad subscribe request")
		return
	}

	stream, err := s.source.Subscribe(req.Table, req.FilterCol, req.FilterVal)
	if err != nil {
		s.log.Warn().Err(err).Str("table", string(req.Table)).Msg("subscribe rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			writeControlDeadline())
		return
	}
	defer stream.Close()

	// Detach the stream as soon as the client goes away, so a forwarder
	// blocked on a dead connection is released.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				stream.Close()
				return
			}
		}
	}()

	for ev := range stream.Events() {
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Debug().Err(err).Msg("feed forward ended")
			return
		}
	}
}
