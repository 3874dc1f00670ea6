package ws

import (
	"encoding/json"
	"sync"

	"personachat/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Hub 持有连接注册表与在线状态，是所有房间共享状态的唯一入口。
// 绑定/解绑与随后的在线广播在同一把锁内完成，观察者不会看到新旧快照交错。
// 广播同样在锁内对快照做非阻塞入队，因此每个连接收到的顺序与调用顺序一致。
type Hub struct {
	mu       sync.Mutex
	clients  map[*Client]struct{}
	registry *Registry
	presence *Presence
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		registry: NewRegistry(),
		presence: NewPresence(),
	}
}

// Register 登记一个刚建立的连接。
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.ConnectionsOpen.Inc()
}

// Unregister 在传输关闭时无条件调用：解绑房间并关闭发送队列。
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	metrics.ConnectionsOpen.Dec()
	h.leaveLocked(c)
	h.closeLocked(c)
}

// Join 绑定连接到房间，必要时先离开旧房间，并广播在线变化。
func (h *Hub) Join(c *Client, user ActiveUser, roomID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, hadPrev := h.registry.Attach(c, user.ID, roomID)
	if hadPrev && prev == (attachment{userID: user.ID, roomID: roomID}) {
		// 重复加入同一房间：引用计数不变，只刷新在线列表
		h.broadcastLocked(roomID, activeUsersEvent(roomID, h.presence.List(roomID)))
		return
	}
	if hadPrev {
		h.departLocked(prev)
	}
	if h.presence.Add(roomID, user) {
		h.broadcastLocked(roomID, userJoinedEvent(user.ID, roomID))
	}
	h.broadcastLocked(roomID, activeUsersEvent(roomID, h.presence.List(roomID)))
}

// Leave 解绑连接；未绑定时返回 false。
func (h *Hub) Leave(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *Client) bool {
	prev, ok := h.registry.Detach(c)
	if !ok {
		return false
	}
	h.departLocked(prev)
	return true
}

func (h *Hub) departLocked(at attachment) {
	if h.presence.Remove(at.roomID, at.userID) {
		h.broadcastLocked(at.roomID, userLeftEvent(at.userID, at.roomID))
	}
	h.broadcastLocked(at.roomID, activeUsersEvent(at.roomID, h.presence.List(at.roomID)))
}

// Attachment 返回连接当前绑定的用户与房间。
func (h *Hub) Attachment(c *Client) (userID, roomID uint, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	at, ok := h.registry.Lookup(c)
	return at.userID, at.roomID, ok
}

// Broadcast 把事件投递给调用时刻房间内的所有连接，单个慢连接不会阻塞其他连接。
func (h *Hub) Broadcast(roomID uint, evt Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(roomID, evt)
}

// SendTo 单播给一个连接，连接已关闭时静默丢弃。
func (h *Hub) SendTo(c *Client, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("type", evt.Type).Msg("encode event")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.deliverLocked(c, data) {
		h.dropLocked(c)
	}
}

func (h *Hub) broadcastLocked(roomID uint, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("type", evt.Type).Msg("encode event")
		return
	}
	var slow []*Client
	for _, c := range h.registry.ConnectionsInRoom(roomID) {
		if !h.deliverLocked(c, data) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.dropLocked(c)
	}
}

// deliverLocked 非阻塞入队；返回 false 表示发送缓冲已满。
func (h *Hub) deliverLocked(c *Client, data []byte) bool {
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// dropLocked 断开跟不上的连接，writePump 随后发送关闭帧，readPump 退出后再走 Unregister。
func (h *Hub) dropLocked(c *Client) {
	if c.closed {
		return
	}
	log.Warn().Str("conn_id", c.id).Msg("outbound buffer full, dropping connection")
	metrics.ConnectionsDropped.Inc()
	h.closeLocked(c)
	h.leaveLocked(c)
}

func (h *Hub) closeLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Online 返回房间在线用户数，供 REST 接口复用。
func (h *Hub) Online(roomID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.presence.Count(roomID)
}

// Shutdown 关闭所有连接的发送队列，用于优雅停服。
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.closeLocked(c)
	}
}
