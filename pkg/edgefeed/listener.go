// Package edgefeed subscribes to register rows pushed by the edge backend
// over a JSON-RPC websocket.
package edgefeed

import (
	"context"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Listener keeps a websocket subscription to the edge backend alive.
type Listener struct {
	URL     url.URL
	EdgeIDs []string

	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
}

// NewListener returns a listener for ws(s)://host/ws.
func NewListener(host string, tls bool, edgeIDs []string) *Listener {
	scheme := "ws"
	if tls {
		scheme = "wss"
	}
	return &Listener{
		URL:            url.URL{Scheme: scheme, Host: host, Path: "/ws"},
		EdgeIDs:        edgeIDs,
		MaxRetries:     10,
		BaseRetryDelay: 2 * time.Second,
		MaxRetryDelay:  60 * time.Second,
		ReadTimeout:    10 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// Start connects and calls funcToCall for each received row until ctx is
// done or the retries are exhausted.
func (l *Listener) Start(ctx context.Context, funcToCall func(row *EdgeRow)) {
	retryCount := 0

	for {
		if ctx.Err() != nil {
			log.Println("Context done, shutting down edge feed")
			return
		}

		// Calculate retry delay with exponential backoff
		retryDelay := time.Duration(1<<retryCount) * l.BaseRetryDelay
		if retryDelay > l.MaxRetryDelay {
			retryDelay = l.MaxRetryDelay
		}

		if retryCount > 0 {
			log.Printf("Retrying connection in %v... (attempt %d/%d)", retryDelay, retryCount+1, l.MaxRetries)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				log.Println("Context done during retry wait, shutting down...")
				return
			}
		}

		log.Printf("Connecting to %s", l.URL.String())

		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = 10 * time.Second
		c, _, err := dialer.DialContext(ctx, l.URL.String(), nil)
		if err != nil {
			log.Printf("Connection failed: %v", err)
			retryCount++
			if retryCount >= l.MaxRetries {
				log.Printf("Max retries (%d) reached. Giving up.", l.MaxRetries)
				return
			}
			continue
		}

		if err := l.subscribe(c); err != nil {
			log.Printf("Subscribe failed: %v", err)
			c.Close()
			retryCount++
			if retryCount >= l.MaxRetries {
				return
			}
			continue
		}

		log.Println("Connected! Accepting edge rows.")
		retryCount = 0

		connectionBroken := l.handleConnection(ctx, c, funcToCall)
		c.Close()

		if !connectionBroken {
			// Clean shutdown requested
			return
		}

		log.Println("Connection lost, will retry...")
	}
}

func (l *Listener) subscribe(c *websocket.Conn) error {
	for _, edgeID := range l.EdgeIDs {
		req := NewSubscribeRequest(edgeID)
		if err := c.WriteJSON(req); err != nil {
			return err
		}
		log.WithFields(log.Fields{"edge": edgeID, "id": req.ID}).Debug("Subscribed to edge rows")
	}
	return nil
}

func (l *Listener) handleConnection(ctx context.Context, c *websocket.Conn, funcToCall func(row *EdgeRow)) bool {
	done := make(chan struct{})

	// Set read deadline to detect dead connections
	c.SetReadDeadline(time.Now().Add(l.ReadTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(l.ReadTimeout))
	})

	go func() {
		defer close(done)
		for {
			messageType, message, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("WebSocket error: %v", err)
				} else {
					log.Printf("Connection closed: %v", err)
				}
				return
			}

			// Reset read deadline on successful message
			c.SetReadDeadline(time.Now().Add(l.ReadTimeout))

			if messageType != websocket.TextMessage {
				log.Printf("Received unexpected message type: %d", messageType)
				continue
			}
			row, err := ParseMessage(message)
			if err != nil {
				log.Printf("Failed to parse edge message: %v", err)
				continue
			}
			if row != nil {
				funcToCall(row)
			}
		}
	}()

	// Send periodic pings to keep connection alive
	ticker := time.NewTicker(l.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return true
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				log.Printf("Failed to send ping: %v", err)
			}
		case <-ctx.Done():
			log.Println("Context done, closing connection...")

			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("Error sending close message:", err)
			}

			// Wait for close confirmation or timeout
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return false
		}
	}
}
