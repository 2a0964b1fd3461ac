package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meshguard/fraudhub/internal/telemetry"
	"github.com/meshguard/fraudhub/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Auth is enforced by the x-api-key middleware before upgrade
	},
}

// Hub maintains the set of subscribed network consoles and streams
// advisories to them as they are published.
type Hub struct {
	clients   map[*websocket.Conn]string
	broadcast chan []byte
	mutex     sync.Mutex
	metrics   *telemetry.Metrics
}

func NewHub(metrics *telemetry.Metrics) *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]string),
		metrics:   metrics,
	}
}

func (h *Hub) Run() {
	for frame := range h.broadcast {
		h.mutex.Lock()
		for client, id := range h.clients {
			// Set write deadline to prevent blocked clients from hanging the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := client.WriteMessage(websocket.TextMessage, frame)
			if err != nil {
				log.Printf("[Stream] Dropped client %s: %v", id, err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.setGauge(len(h.clients))
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[Stream] Failed to upgrade websocket: %v", err)
		return
	}

	id := uuid.New().String()[:8]
	h.mutex.Lock()
	h.clients[conn] = id
	total := len(h.clients)
	h.setGauge(total)
	h.mutex.Unlock()

	log.Printf("[Stream] Client %s connected. Total clients: %d", id, total)

	// Keep alive loop (we only push down, but we must read to handle disconnects)
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.setGauge(total)
			h.mutex.Unlock()
			conn.Close()
			log.Printf("[Stream] Client %s disconnected. Total clients: %d", id, total)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[Stream] Client %s read error: %v", id, err)
				}
				break
			}
		}
	}()
}

// Broadcast queues a frame for all subscribers. Frames are dropped
// when the queue is full so a stalled hub cannot block ingestion.
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
		log.Printf("[Stream] Broadcast queue full, dropping frame")
	}
}

// BroadcastAdvisory publishes an advisory to all subscribers.
func (h *Hub) BroadcastAdvisory(adv models.Advisory) {
	frame, err := json.Marshal(gin.H{
		"type":     "advisory",
		"advisory": adv,
	})
	if err != nil {
		log.Printf("[Stream] Failed to encode advisory %s: %v", adv.AdvisoryID, err)
		return
	}
	h.Broadcast(frame)
}

// setGauge updates the subscriber count gauge. Callers hold h.mutex.
func (h *Hub) setGauge(count int) {
	if h.metrics != nil {
		h.metrics.SetStreamClients(count)
	}
}
