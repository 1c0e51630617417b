package sse

import (
	"encoding/json"
	"sync"
	"time"

	"mailbot/internal/logger"
	"mailbot/internal/model"
)

const clientBuffer = 32

// Hub fans pipeline events out to operator event streams. A subscriber
// either follows one account or, with an empty account, all of them.
type Hub struct {
	clients map[chan []byte]string
	mutex   sync.RWMutex
	closed  bool
	logger  *logger.Logger
}

func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		clients: make(map[chan []byte]string),
		logger:  logger,
	}
}

// Subscribe registers a new stream. The channel is closed by Unsubscribe
// or Close.
func (h *Hub) Subscribe(account string) chan []byte {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	channel := make(chan []byte, clientBuffer)
	if h.closed {
		close(channel)
		return channel
	}
	h.clients[channel] = account

	h.logger.Info("Added event stream client, total clients:", len(h.clients))
	return channel
}

func (h *Hub) Unsubscribe(channel chan []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, exists := h.clients[channel]; !exists {
		return
	}
	delete(h.clients, channel)
	close(channel)

	h.logger.Info("Removed event stream client, remaining clients:", len(h.clients))
}

// Publish implements service.EventSink. Slow clients lose the event
// instead of stalling the pipeline.
func (h *Hub) Publish(eventType string, data interface{}) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	event := map[string]interface{}{
		"type": eventType,
		"data": data,
		"time": time.Now().Unix(),
	}
	jsonData, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event:", err)
		return
	}

	account := accountOf(data)
	for channel, filter := range h.clients {
		if filter != "" && account != "" && filter != account {
			continue
		}
		select {
		case channel <- jsonData:
		default:
			h.logger.Warn("Dropped", eventType, "event for a slow client")
		}
	}
}

func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Later subscribers get a closed channel.
func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for channel := range h.clients {
		close(channel)
		delete(h.clients, channel)
	}
	h.closed = true
}

func accountOf(data interface{}) string {
	switch v := data.(type) {
	case *model.MessageRecord:
		return v.Account
	case *model.Task:
		return v.Account
	default:
		return ""
	}
}
