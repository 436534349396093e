// Package stream はジョブ記録の更新を WebSocket で配信します。
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait = 5 * time.Second

	messageTypeJobUpdate = "job_update"
)

type client struct {
	conn  *websocket.Conn
	jobID string // 空なら全ジョブを受信する
}

type message struct {
	jobID string
	data  []byte
}

// Hub は WebSocket クライアントを管理し、ジョブ更新をブロードキャストします。
type Hub struct {
	clients    map[*client]struct{}
	broadcast  chan message
	register   chan *client
	unregister chan *client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
	upgrader   websocket.Upgrader
	logger     logrus.FieldLogger
}

// NewHub は Hub を作成します。allowedOrigins が空の場合は Origin を検査しません。
func NewHub(logger logrus.FieldLogger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan message, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.WithField("component", "stream"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Start はイベントループをバックグラウンドで起動します。
func (h *Hub) Start() {
	go h.run()
}

// Stop はイベントループを止め、接続をすべて閉じます。
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				c.conn.Close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("clients", total).Debug("websocket client connected")
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.WithField("clients", total).Debug("websocket client disconnected")
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if c.jobID != "" && c.jobID != msg.jobID {
					continue
				}
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					h.logger.WithError(err).Debug("failed to send job update")
					c.conn.Close()
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish はジョブ記録の更新を購読中のクライアントに送ります。
func (h *Hub) Publish(jobID string, payload any) {
	data, err := json.Marshal(gin.H{
		"type":  messageTypeJobUpdate,
		"jobId": jobID,
		"job":   payload,
	})
	if err != nil {
		h.logger.WithError(err).Warn("failed to marshal job update")
		return
	}

	select {
	case h.broadcast <- message{jobID: jobID, data: data}:
	case <-h.done:
	}
}

// ClientCount は接続中のクライアント数を返します。
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Handler は GET /api/jobs/ws のハンドラーを返します。
// クエリ jobId を指定するとそのジョブの更新のみを受信します。
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.WithError(err).Warn("failed to upgrade to websocket")
			return
		}

		cl := &client{conn: conn, jobID: c.Query("jobId")}
		select {
		case h.register <- cl:
		case <-h.done:
			conn.Close()
			return
		}

		// クライアントからのメッセージは読み捨て、切断の検知にのみ使う
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					select {
					case h.unregister <- cl:
					case <-h.done:
					}
					return
				}
			}
		}()
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
