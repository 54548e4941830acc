package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"scorebot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedTopics are fanned into every websocket client.
var streamedTopics = []events.Topic{
	events.TopicSignal,
	events.TopicOrderPlaced,
	events.TopicOrderSettled,
	events.TopicPositionDelta,
	events.TopicRunCompleted,
}

type wsFrame struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// websocket streams bus events to the client until it disconnects.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	merged := make(chan wsFrame, 100)
	done := make(chan struct{})
	defer close(done)

	for _, topic := range streamedTopics {
		stream, unsub := s.bus.Subscribe(topic, 100)
		defer unsub()
		go func(topic events.Topic, stream <-chan any) {
			for payload := range stream {
				select {
				case merged <- wsFrame{Topic: string(topic), Payload: payload}:
				case <-done:
					return
				}
			}
		}(topic, stream)
	}

	// Reads only matter for detecting a closed peer.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for frame := range merged {
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}
