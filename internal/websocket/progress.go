package websocket

import (
	"log"
	"net/http"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/progress"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for dev simplicity
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeProgress upgrades the request and streams progress events for one
// tracking id until the terminal event, the subscriber timeout, or the client
// going away. A client connecting after completion receives the cached
// terminal event and a close frame.
func ServeProgress(c *gin.Context, store *progress.Store, trackingID string, secret []byte) {
	// Authenticate via token query param; browsers can't set headers on
	// websocket dials.
	tokenString := c.Query("token")
	if tokenString == "" {
		log.Println("Progress stream rejected: missing token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		log.Println("Progress stream rejected: invalid token:", err)
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Println("Progress stream upgrade failed:", err)
		return
	}

	events := store.Subscribe(trackingID)

	// Reader only watches for the client closing the connection.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				store.Unsubscribe(trackingID)
				return
			}
		}
	}()

	for event := range events {
		if err := conn.WriteJSON(event); err != nil {
			store.Unsubscribe(trackingID)
			_ = conn.Close()
			return
		}
	}

	// Channel closed: terminal event delivered, subscriber expired, or the
	// store dropped us. Either way the stream is over.
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}
