package feedws

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"peerchat/store"
)

const clientBuffer = 64

// Client dials a feed server and satisfies the store.Source contract, so a
// change bus can attach to a remote store exactly like a local one. There
// is no automatic reconnect: a dropped stream closes and the owner decides
// whether to subscribe again.
type Client struct {
	url string
	log zerolog.Logger
}

// NewClient creates a client for one feed endpoint URL (ws:// or wss://).
func NewClient(url string, log zerolog.Logger) *Client {
	return &Client{url: url, log: log}
}

// Subscribe opens one scoped stream over a dedicated connection.
func (c *Client) Subscribe(table store.Table, filterCol, filterVal string) (store.EventStream, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed %q: %w", c.url, err)
	}

	req := subscribeRequest{Table: table, FilterCol: filterCol, FilterVal: filterVal}
	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}

	stream := &wsStream{
		conn:   conn,
		events: make(chan store.RowEvent, clientBuffer),
		log:    c.log,
	}
	go stream.readLoop()
	return stream, nil
}

type wsStream struct {
	conn      *websocket.Conn
	events    chan store.RowEvent
	log       zerolog.Logger
	closeOnce sync.Once
}

func (s *wsStream) Events() <-chan store.RowEvent {
	return s.events
}

// Close tears the connection down; the events channel closes once the read
// loop notices. Idempotent.
func (s *wsStream) Close() {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			writeControlDeadline())
		_ = s.conn.Close()
	})
}

func (s *wsStream) readLoop() {
	defer close(s.events)
	for {
		var ev store.RowEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("feed stream ended")
			}
			return
		}
		s.events <- ev
	}
}

func writeControlDeadline() time.Time {
	return time.Now().Add(time.Second)
}
