package ws

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub fans simulation events out to every connected spectator. The feed
// is one-way: clients receive event frames and send nothing. A slow
// client loses its oldest queued frames, never stalls the simulation.
type Hub struct {
	log      *log.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	out chan []byte
}

const subQueue = 64

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[*subscriber]struct{}{},
	}
}

// Broadcast queues a frame to every subscriber, dropping each
// subscriber's oldest frame when its queue is full.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		sendLatest(s.out, frame)
	}
}

func sendLatest(out chan []byte, frame []byte) {
	for {
		select {
		case out <- frame:
			return
		default:
			select {
			case <-out:
			default:
			}
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub := &subscriber{out: make(chan []byte, subQueue)}
		h.mu.Lock()
		h.subs[sub] = struct{}{}
		h.mu.Unlock()
		defer func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		}()

		done := make(chan struct{})

		// Reader exists only to notice the close.
		go func() {
			defer close(done)
			conn.SetReadLimit(512)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case frame := <-sub.out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}
	}
}
