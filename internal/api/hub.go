package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"ironfront/internal/game"
	"ironfront/internal/protocol"
)

const (
	// MaxWSConnectionsTotal caps connected game clients.
	MaxWSConnectionsTotal = 64

	// MaxWSConnectionsPerIP caps clients per source IP.
	MaxWSConnectionsPerIP = 4

	// clientSendBuffer is the per-client outbound queue. A client that
	// cannot drain it is disconnected rather than allowed to stall the
	// relay for everyone else.
	clientSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		if IsAllowedOrigin(r.Header.Get("Origin")) {
			return true
		}
		log.Warnf("websocket rejected from origin %q", r.Header.Get("Origin"))
		RecordConnectionRejected("origin")
		return false
	},
}

// wsEnvelope is the frame format on the websocket: a welcome announcing the
// assigned client id, then relayed network messages.
type wsEnvelope struct {
	Event    string            `json:"event"` // "welcome" or "message"
	ClientID uint32            `json:"clientId,omitempty"`
	Message  *protocol.Message `json:"message,omitempty"`
}

type wsClient struct {
	id     uint32
	ip     string
	conn   *websocket.Conn
	sendCh chan []byte
}

// Hub is the authority-side message server: every message a client sends is
// relayed to all addressed clients AND to the local session, in one arrival
// order. The relay goroutine is the only writer to that order, which is what
// makes it total.
type Hub struct {
	loop    *game.Loop
	session *game.Session
	localID uint32

	mu      sync.RWMutex
	clients map[uint32]*wsClient
	perIP   map[string]int
	nextID  uint32

	maxClients int

	relayCh    chan protocol.Message
	register   chan *wsClient
	unregister chan uint32
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewHub creates a hub relaying into the given session's loop. Websocket
// clients get ids above the session's own client id.
func NewHub(loop *game.Loop, session *game.Session) *Hub {
	localID := session.ClientID()
	return &Hub{
		loop:       loop,
		session:    session,
		localID:    localID,
		clients:    make(map[uint32]*wsClient),
		perIP:      make(map[string]int),
		nextID:     localID,
		maxClients: MaxWSConnectionsTotal,
		relayCh:    make(chan protocol.Message, 512),
		register:   make(chan *wsClient, 8),
		unregister: make(chan uint32, 8),
		stop:       make(chan struct{}),
	}
}

// SetMaxClients overrides the total connection cap. Call before serving.
func (h *Hub) SetMaxClients(n int) {
	if n > 0 {
		h.maxClients = n
	}
}

// LocalTransport returns the Transport the local session sends through.
func (h *Hub) LocalTransport() game.Transport {
	return hubTransport{h}
}

type hubTransport struct{ h *Hub }

func (t hubTransport) Send(msg protocol.Message) error {
	t.h.Relay(msg)
	return nil
}

// Relay enqueues a message into the global arrival order.
func (h *Hub) Relay(msg protocol.Message) {
	select {
	case h.relayCh <- msg:
	case <-h.stop:
	}
}

// Run processes the relay until Stop. Must run in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.perIP[c.ip]++
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("client %d connected from %s (%d total)", c.id, c.ip, count)
			UpdateWSConnections(count)
			id := c.id
			h.loop.Do(func() { h.session.RegisterClient(id) })

		case id := <-h.unregister:
			h.dropClient(id)
			h.loop.Do(func() { h.session.UnregisterClient(id) })

		case msg := <-h.relayCh:
			h.deliver(msg)
		}
	}
}

func (h *Hub) dropClient(id uint32) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		h.perIP[c.ip]--
		if h.perIP[c.ip] <= 0 {
			delete(h.perIP, c.ip)
		}
		close(c.sendCh)
		c.conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		log.Printf("client %d disconnected (%d remaining)", id, count)
		UpdateWSConnections(count)
	}
}

// deliver writes one relayed message to every addressed endpoint: the local
// session first, then websocket clients in ascending id order.
func (h *Hub) deliver(msg protocol.Message) {
	IncrementWSMessages()

	if msg.Receiver == protocol.BroadcastReceiver || msg.Receiver == h.localID {
		h.loop.Deliver(msg)
	}

	frame, err := json.Marshal(wsEnvelope{Event: "message", Message: &msg})
	if err != nil {
		return
	}

	h.mu.RLock()
	ids := make([]uint32, 0, len(h.clients))
	for id := range h.clients {
		if msg.Receiver == protocol.BroadcastReceiver || msg.Receiver == id {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var stalled []uint32
	for _, id := range ids {
		c := h.clients[id]
		select {
		case c.sendCh <- frame:
		default:
			// Can't keep up; cut it loose instead of stalling the relay.
			stalled = append(stalled, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stalled {
		log.Warnf("client %d send buffer full, disconnecting", id)
		h.dropClient(id)
	}
}

// ClientCount returns connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.mu.Lock()
		for _, c := range h.clients {
			c.conn.Close()
		}
		h.clients = make(map[uint32]*wsClient)
		h.mu.Unlock()
	})
}

// HandleWebSocket upgrades a game-client connection, assigns it a client id
// and joins it to the relay.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	h.mu.Lock()
	if len(h.clients) >= h.maxClients {
		h.mu.Unlock()
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many clients", http.StatusServiceUnavailable)
		return
	}
	if h.perIP[ip] >= MaxWSConnectionsPerIP {
		h.mu.Unlock()
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many clients from your IP", http.StatusTooManyRequests)
		return
	}
	h.nextID++
	id := h.nextID
	h.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade: %v", err)
		return
	}

	c := &wsClient{id: id, ip: ip, conn: conn, sendCh: make(chan []byte, clientSendBuffer)}

	welcome, _ := json.Marshal(wsEnvelope{Event: "welcome", ClientID: id})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
		conn.Close()
		return
	}
	conn.SetWriteDeadline(time.Time{})

	h.register <- c
	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *wsClient) {
	for frame := range c.sendCh {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

func (h *Hub) readLoop(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c.id:
		case <-h.stop:
		}
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil || env.Message == nil {
			log.Warnf("client %d sent an unparseable frame", c.id)
			continue
		}
		msg := *env.Message
		// The relay, not the client, decides who sent a message.
		msg.Sender = c.id
		h.Relay(msg)
	}
}
