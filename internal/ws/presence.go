package ws

import "sort"

type presenceEntry struct {
	user ActiveUser
	refs int
}

// Presence 按 (room, user) 维护连接引用计数：同一用户多标签页在线时，
// 只有最后一个连接离开才会把用户移出在线列表。由 Hub.mu 串行化访问。
type Presence struct {
	rooms map[uint]map[uint]*presenceEntry
}

func NewPresence() *Presence {
	return &Presence{rooms: make(map[uint]map[uint]*presenceEntry)}
}

// Add 增加一次引用，first 表示用户刚进入在线列表。
func (p *Presence) Add(roomID uint, u ActiveUser) (first bool) {
	users := p.rooms[roomID]
	if users == nil {
		users = make(map[uint]*presenceEntry)
		p.rooms[roomID] = users
	}
	e, ok := users[u.ID]
	if !ok {
		users[u.ID] = &presenceEntry{user: u, refs: 1}
		return true
	}
	e.refs++
	e.user = u
	return false
}

// Remove 减少一次引用，last 表示用户已离开在线列表。
func (p *Presence) Remove(roomID, userID uint) (last bool) {
	users := p.rooms[roomID]
	e, ok := users[userID]
	if !ok {
		return false
	}
	e.refs--
	if e.refs > 0 {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(p.rooms, roomID)
	}
	return true
}

// List 返回按用户 id 排序的在线用户。
func (p *Presence) List(roomID uint) []ActiveUser {
	users := p.rooms[roomID]
	out := make([]ActiveUser, 0, len(users))
	for _, e := range users {
		out = append(out, e.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Presence) Contains(roomID, userID uint) bool {
	_, ok := p.rooms[roomID][userID]
	return ok
}

func (p *Presence) Count(roomID uint) int {
	return len(p.rooms[roomID])
}
