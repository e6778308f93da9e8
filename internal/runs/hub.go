package runs

import (
	"context"
	"sync"
)

// Message is one server-sent event.
type Message struct {
	Event string
	Data  []byte
}

// Hub fans messages out to per-topic subscribers. A single goroutine (Run)
// owns the topic table; subscribers that fall behind lose messages instead of
// stalling publishers.
type Hub struct {
	topics map[string]map[chan Message]struct{}

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicMessage
	done        chan struct{}
	stopOnce    sync.Once

	mu sync.Mutex
}

type subscription struct {
	ch    chan Message
	topic string
}

type topicMessage struct {
	topic string
	msg   Message
}

// NewHub creates a hub; call Run to start delivering.
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[chan Message]struct{}),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicMessage, 256),
		done:        make(chan struct{}),
	}
}

// Run processes subscriptions and deliveries until ctx is done. Subscriber
// channels are closed on exit.
func (h *Hub) Run(ctx context.Context) {
	defer h.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.subscribe:
			h.mu.Lock()
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan Message]struct{})
				h.topics[s.topic] = subs
			}
			subs[s.ch] = struct{}{}
			h.mu.Unlock()
		case s := <-h.unsubscribe:
			h.mu.Lock()
			if subs, ok := h.topics[s.topic]; ok {
				if _, present := subs[s.ch]; present {
					delete(subs, s.ch)
					close(s.ch)
				}
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
			h.mu.Unlock()
		case tm := <-h.publish:
			h.mu.Lock()
			for ch := range h.topics[tm.topic] {
				select {
				case ch <- tm.msg:
				default:
					// slow reader, drop
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for topic, subs := range h.topics {
			for ch := range subs {
				close(ch)
			}
			delete(h.topics, topic)
		}
		h.mu.Unlock()
	})
}

// Publish queues msg for every subscriber of topic. It returns without
// delivering once the hub has stopped.
func (h *Hub) Publish(topic string, msg Message) {
	select {
	case h.publish <- topicMessage{topic: topic, msg: msg}:
	case <-h.done:
	}
}

// Subscribe registers a buffered channel for topic. The returned cancel
// function unsubscribes and closes the channel; it is safe to call more than
// once.
func (h *Hub) Subscribe(topic string, buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	select {
	case h.subscribe <- subscription{ch: ch, topic: topic}:
	case <-h.done:
		close(ch)
		return ch, func() {}
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			select {
			case h.unsubscribe <- subscription{ch: ch, topic: topic}:
			case <-h.done:
			}
		})
	}
}

// Subscribers reports how many channels listen on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
