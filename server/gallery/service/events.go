package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"

	commonlog "gallery_server/server/common/log"
	"gallery_server/server/gallery/domain"
)

const (
	EventFileUploaded = "file.uploaded"
	EventFileDeleted  = "file.deleted"

	eventsExchange = "gallery.events"

	wsWriteTimeout = 5 * time.Second
)

// Event is the payload broadcast to websocket clients and published to the
// message queue on every successful upload or deletion.
type Event struct {
	Type   string             `json:"type"`
	ID     string             `json:"id"`
	Record *domain.FileRecord `json:"record,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = c.conn.WriteJSON(payload)
}

// EventHub fans gallery events out to connected websocket clients. Fanout
// is local to this process and fire-and-forget: a slow or dead client never
// blocks an upload.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{clients: map[*wsClient]struct{}{}}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// HandleWS upgrades the request and keeps the connection registered until
// the client goes away. Inbound messages are ignored; the read loop exists
// only to detect disconnects.
func (h *EventHub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := &wsClient{conn: conn}
	h.register(client)
	defer h.unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) register(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
}

func (h *EventHub) unregister(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
	_ = client.conn.Close()
}

func (h *EventHub) Broadcast(event Event) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.writeJSON(event)
	}
}

// EventPublisher mirrors the same events onto a topic exchange so consumers
// outside this process (indexers, other replicas) can react to uploads.
type EventPublisher struct {
	channel *amqp.Channel
}

func NewEventPublisher(conn *amqp.Connection) (*EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(eventsExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &EventPublisher{channel: ch}, nil
}

func (p *EventPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, eventsExchange, event.Type, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
}

func (p *EventPublisher) Close() {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			commonlog.Warnf("close event publisher: %v", err)
		}
	}
}
