package ws

// attachment 记录连接当前绑定的身份与房间。
type attachment struct {
	userID uint
	roomID uint
}

// Registry 跟踪已绑定房间的连接。本身不加锁，由 Hub.mu 串行化访问。
type Registry struct {
	conns map[*Client]attachment
	rooms map[uint]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[*Client]attachment),
		rooms: make(map[uint]map[*Client]struct{}),
	}
}

// Attach 把连接绑定到房间；若已绑定其他房间则先解绑，返回之前的绑定。
func (r *Registry) Attach(c *Client, userID, roomID uint) (prev attachment, hadPrev bool) {
	prev, hadPrev = r.Detach(c)
	r.conns[c] = attachment{userID: userID, roomID: roomID}
	set := r.rooms[roomID]
	if set == nil {
		set = make(map[*Client]struct{})
		r.rooms[roomID] = set
	}
	set[c] = struct{}{}
	return prev, hadPrev
}

// Detach 解除连接的绑定；未绑定时是空操作。
func (r *Registry) Detach(c *Client) (attachment, bool) {
	at, ok := r.conns[c]
	if !ok {
		return attachment{}, false
	}
	delete(r.conns, c)
	if set := r.rooms[at.roomID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(r.rooms, at.roomID)
		}
	}
	return at, true
}

// Lookup 返回连接当前的绑定。
func (r *Registry) Lookup(c *Client) (attachment, bool) {
	at, ok := r.conns[c]
	return at, ok
}

// ConnectionsInRoom 返回调用时刻的连接快照，调用方可在遍历时修改 Registry。
func (r *Registry) ConnectionsInRoom(roomID uint) []*Client {
	set := r.rooms[roomID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
