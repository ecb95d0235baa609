// Package transport moves raw messages between session clients. The relay is
// the message-server role: every message a client sends is delivered to all
// addressed clients — the sender included — in one global arrival order.
// That single order is what lockstep determinism is built on.
package transport

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"ironfront/internal/protocol"
)

// Handler receives messages delivered to an attached client.
type Handler func(protocol.Message)

// Relay is an in-process message server. Delivery is queue-pumped, never
// reentrant: a handler that sends during delivery only appends to the queue,
// so nested dispatch cannot reorder messages between clients.
type Relay struct {
	mu      sync.Mutex
	order   []uint32
	clients map[uint32]Handler
	queue   []protocol.Message
	pumping bool
}

// NewRelay creates an empty relay.
func NewRelay() *Relay {
	return &Relay{clients: make(map[uint32]Handler)}
}

// Attach registers a client and returns its transport endpoint. Delivery
// order across clients follows attach order.
func (r *Relay) Attach(clientID uint32, h Handler) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.clients[clientID]; dup {
		log.Errorf("relay: client id %d already attached", clientID)
		return nil
	}
	r.clients[clientID] = h
	r.order = append(r.order, clientID)
	return &Client{relay: r, id: clientID}
}

// Detach removes a client.
func (r *Relay) Detach(clientID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, clientID)
	for i, id := range r.order {
		if id == clientID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Relay) send(msg protocol.Message) {
	r.mu.Lock()
	r.queue = append(r.queue, msg)
	if r.pumping {
		r.mu.Unlock()
		return
	}
	r.pumping = true
	for len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		// Snapshot both order and handlers: a handler may Attach or Detach
		// concurrently, and the live map must not be read unlocked.
		order := append([]uint32(nil), r.order...)
		handlers := make([]Handler, len(order))
		for i, id := range order {
			handlers[i] = r.clients[id]
		}
		r.mu.Unlock()

		for i, id := range order {
			if next.Receiver != protocol.BroadcastReceiver && next.Receiver != id {
				continue
			}
			if h := handlers[i]; h != nil {
				h(next)
			}
		}
		r.mu.Lock()
	}
	r.pumping = false
	r.mu.Unlock()
}

// Client is one attached endpoint; it satisfies the session's Transport.
type Client struct {
	relay *Relay
	id    uint32
}

// Send relays the message to every addressed client in arrival order.
func (c *Client) Send(msg protocol.Message) error {
	if msg.Sender == 0 {
		msg.Sender = c.id
	}
	c.relay.send(msg)
	return nil
}
