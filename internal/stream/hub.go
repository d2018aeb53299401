// Package stream fans run snapshots out to websocket viewers, across
// instances when redis is configured.
package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"backend-runhub/internal/run"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	MessageSnapshot = "snapshot"
	MessageEnd      = "end"
)

// Message is the envelope written to viewers.
type Message struct {
	Type     string        `json:"type"`
	RunID    string        `json:"run_id"`
	Snapshot *run.Snapshot `json:"snapshot,omitempty"`
	Status   string        `json:"status,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Hub delivers through redis when a client is configured so every instance,
// including this one, receives each message exactly once. Without redis it
// delivers in process.
type Hub struct {
	redis  *redis.Client
	logger *zap.Logger

	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	RunID string
	Send  chan []byte
}

func NewHub(redisClient *redis.Client, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		redis:   redisClient,
		logger:  logger,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		pubsub := redisClient.PSubscribe(ctx, redisPattern)
		confirmCtx, stop := context.WithTimeout(ctx, 2*time.Second)
		_, err := pubsub.Receive(confirmCtx)
		stop()
		if err != nil {
			logger.Warn("redis fan-out unavailable, delivering locally", zap.Error(err))
			_ = pubsub.Close()
			cancel()
			h.redis = nil
			return h
		}
		h.cancel = cancel
		h.done = make(chan struct{})
		go h.subscribeRedis(ctx, pubsub)
	}
	return h
}

func (h *Hub) Register(runID string) *Client {
	client := &Client{
		RunID: runID,
		Send:  make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[runID] == nil {
		h.clients[runID] = map[*Client]struct{}{}
	}
	h.clients[runID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if runClients, ok := h.clients[client.RunID]; ok {
		if _, registered := runClients[client]; !registered {
			return
		}
		delete(runClients, client)
		if len(runClients) == 0 {
			delete(h.clients, client.RunID)
		}
		close(client.Send)
	}
}

// Viewers reports how many local clients watch runID.
func (h *Hub) Viewers(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[runID])
}

func (h *Hub) PublishSnapshot(runID string, snap run.Snapshot) {
	h.publish(Message{Type: MessageSnapshot, RunID: runID, Snapshot: &snap})
}

// PublishEnd tells viewers the run is over. errMsg is empty for a normal stop.
func (h *Hub) PublishEnd(runID, status, errMsg string) {
	h.publish(Message{Type: MessageEnd, RunID: runID, Status: status, Error: errMsg})
}

func (h *Hub) publish(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encode stream message", zap.String("run_id", msg.RunID), zap.Error(err))
		return
	}
	h.Broadcast(msg.RunID, payload)
}

// Broadcast sends a raw payload to every viewer of runID.
func (h *Hub) Broadcast(runID string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(runID), payload).Err()
		if err == nil {
			return
		}
		h.logger.Warn("redis publish failed, delivering locally", zap.String("run_id", runID), zap.Error(err))
	}
	h.deliver(runID, payload)
}

func (h *Hub) deliver(runID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[runID] {
		select {
		case client.Send <- payload:
		default:
			h.logger.Debug("viewer too slow, dropping message", zap.String("run_id", runID))
		}
	}
}

// Close stops the redis subscription.
func (h *Hub) Close() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if runID := runIDFromChannel(msg.Channel); runID != "" {
				h.deliver(runID, []byte(msg.Payload))
			}
		}
	}
}

const (
	channelPrefix = "run:"
	channelSuffix = ":snapshots"
	redisPattern  = channelPrefix + "*" + channelSuffix
)

func redisChannel(runID string) string {
	return channelPrefix + runID + channelSuffix
}

// runIDFromChannel parses run:{id}:snapshots.
func runIDFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
