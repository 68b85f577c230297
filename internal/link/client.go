package link

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"QuadExplore/internal/model"
)

// Client is a peer connection, used by operator consoles and tests.
type Client struct {
	conn    *websocket.Conn
	source  lorawan.EUI64
	domain  string
	session uuid.UUID
	seq     atomic.Uint64
	wmu     sync.Mutex
}

// Dial connects to a link server at a ws:// URL. Every Client opens a new
// session, so its sequence numbers may restart at 1.
func Dial(url string, source lorawan.EUI64, domain string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial link %s: %w", url, err)
	}
	return &Client{conn: conn, source: source, domain: domain, session: uuid.New()}, nil
}

// Send wraps payload as a message from this peer.
func (c *Client) Send(kind string, prio model.Priority, payload []byte) error {
	m := model.NewMessage(c.source, c.seq.Add(1), kind, prio, payload)
	m.Domain = c.domain
	m.Session = c.session
	return c.SendMessage(m)
}

// SendMessage writes a prepared message as-is.
func (c *Client) SendMessage(m model.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Receive waits up to timeout for the next message from the server.
func (c *Client) Receive(timeout time.Duration) (model.Message, error) {
	var m model.Message
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode link frame: %w", err)
	}
	return m, nil
}

func (c *Client) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
