package ws

import (
	"context"
	"net/http"
	"time"

	"personachat/internal/auth"
	"personachat/internal/config"
	"personachat/internal/models"
	"personachat/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	sendBufferSize = 256
	maxMessageSize = 1 << 20 // 1MB
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
)

// Client 是一条 WebSocket 连接。closed 由 Hub.mu 保护，user 只在读循环中访问。
type Client struct {
	id         string
	conn       *websocket.Conn
	send       chan []byte
	authUserID uint
	limiter    *rate.Limiter

	closed bool

	user *models.User
}

// NewClient 创建连接对象；authUserID 为 0 表示未绑定认证身份。
func NewClient(conn *websocket.Conn, authUserID uint) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		authUserID: authUserID,
		limiter:    rate.NewLimiter(rate.Every(100*time.Millisecond), 20),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 校验 token 后升级为 WebSocket，并把连接交给 Dispatcher。
func Serve(h *Hub, d *Dispatcher, users store.UserStore, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		user, err := users.GetUser(c.Request.Context(), claims.UserID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade")
			return
		}
		client := NewClient(conn, user.ID)
		h.Register(client)
		log.Info().Str("conn_id", client.id).Uint("user_id", user.ID).Msg("websocket connected")

		go client.writePump()
		client.readPump(c.Request.Context(), h, d)
	}
}

func (c *Client) readPump(ctx context.Context, h *Hub, d *Dispatcher) {
	defer func() {
		d.Disconnect(c)
		_ = c.conn.Close()
		log.Info().Str("conn_id", c.id).Msg("websocket disconnected")
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket read")
			}
			return
		}
		if !c.limiter.Allow() {
			h.SendTo(c, errorEvent("Too many messages, slow down"))
			continue
		}
		d.Handle(ctx, c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
