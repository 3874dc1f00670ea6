package ws

import (
	"sync"
	"testing"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.registry == nil || hub.presence == nil {
		t.Error("NewHub() left registry or presence nil")
	}
}

func TestHub_Online_EmptyRoom(t *testing.T) {
	hub := NewHub()
	if online := hub.Online(999); online != 0 {
		t.Errorf("Online() for empty room = %d, want 0", online)
	}
}

func TestRegistry_AttachMovesRoom(t *testing.T) {
	r := NewRegistry()
	c := newTestClient(1)

	if _, had := r.Attach(c, 1, 7); had {
		t.Fatal("first Attach() reported a previous attachment")
	}
	prev, had := r.Attach(c, 1, 8)
	if !had || prev.roomID != 7 {
		t.Fatalf("Attach() prev = %+v, %v; want room 7", prev, had)
	}
	if n := len(r.ConnectionsInRoom(7)); n != 0 {
		t.Errorf("ConnectionsInRoom(7) = %d, want 0", n)
	}
	if n := len(r.ConnectionsInRoom(8)); n != 1 {
		t.Errorf("ConnectionsInRoom(8) = %d, want 1", n)
	}
}

func TestRegistry_DetachUnattachedIsNoop(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Detach(newTestClient(1)); ok {
		t.Error("Detach() on unattached client returned ok")
	}
}

func TestRegistry_SnapshotIsIndependent(t *testing.T) {
	r := NewRegistry()
	a, b := newTestClient(1), newTestClient(2)
	r.Attach(a, 1, 7)
	r.Attach(b, 2, 7)

	snap := r.ConnectionsInRoom(7)
	r.Detach(a)
	if len(snap) != 2 {
		t.Errorf("snapshot length = %d after Detach, want 2", len(snap))
	}
}

func TestPresence_RefCounted(t *testing.T) {
	p := NewPresence()
	u := ActiveUser{ID: 1, Username: "alice"}

	if !p.Add(7, u) {
		t.Error("first Add() should report first")
	}
	if p.Add(7, u) {
		t.Error("second Add() should not report first")
	}
	if p.Remove(7, 1) {
		t.Error("Remove() with one ref left should not report last")
	}
	if !p.Contains(7, 1) {
		t.Error("user dropped while a connection is still attached")
	}
	if !p.Remove(7, 1) {
		t.Error("final Remove() should report last")
	}
	if p.Contains(7, 1) || p.Count(7) != 0 {
		t.Error("user still present after last Remove()")
	}
	if p.Remove(7, 1) {
		t.Error("Remove() of absent user should be a no-op")
	}
}

func TestPresence_ListSorted(t *testing.T) {
	p := NewPresence()
	p.Add(7, ActiveUser{ID: 3, Username: "c"})
	p.Add(7, ActiveUser{ID: 1, Username: "a"})
	p.Add(7, ActiveUser{ID: 2, Username: "b"})

	list := p.List(7)
	for i, want := range []uint{1, 2, 3} {
		if list[i].ID != want {
			t.Fatalf("List()[%d].ID = %d, want %d", i, list[i].ID, want)
		}
	}
}

func TestHub_JoinBroadcastsPresence(t *testing.T) {
	hub := NewHub()
	a, b := newTestClient(1), newTestClient(2)
	hub.Register(a)
	hub.Register(b)

	hub.Join(a, ActiveUser{ID: 1, Username: "alice"}, 7)
	drain(t, a)
	hub.Join(b, ActiveUser{ID: 2, Username: "bob"}, 7)

	got := drain(t, a)
	if len(got) != 2 || got[0].Type != TypeUserJoined || got[1].Type != TypeActiveUsers {
		t.Fatalf("a received %v, want [user_joined active_users]", typesOf(got))
	}
	if ids := activeIDsOf(t, got[1]); len(ids) != 2 {
		t.Errorf("active users = %v, want 2 entries", ids)
	}
	if hub.Online(7) != 2 {
		t.Errorf("Online(7) = %d, want 2", hub.Online(7))
	}
}

func TestHub_RejoinSameRoomKeepsPresence(t *testing.T) {
	hub := NewHub()
	a := newTestClient(1)
	hub.Register(a)
	u := ActiveUser{ID: 1, Username: "alice"}

	hub.Join(a, u, 7)
	drain(t, a)
	hub.Join(a, u, 7)

	got := drain(t, a)
	if len(got) != 1 || got[0].Type != TypeActiveUsers {
		t.Fatalf("rejoin produced %v, want [active_users]", typesOf(got))
	}
	hub.Leave(a)
	if hub.Online(7) != 0 {
		t.Errorf("Online(7) = %d after leave, want 0", hub.Online(7))
	}
}

func TestHub_JoinOtherRoomLeavesPrevious(t *testing.T) {
	hub := NewHub()
	a, b := newTestClient(1), newTestClient(2)
	hub.Register(a)
	hub.Register(b)
	hub.Join(a, ActiveUser{ID: 1}, 7)
	hub.Join(b, ActiveUser{ID: 2}, 7)
	drain(t, b)

	hub.Join(a, ActiveUser{ID: 1}, 8)

	got := drain(t, b)
	if len(got) != 2 || got[0].Type != TypeUserLeft {
		t.Fatalf("b received %v, want [user_left active_users]", typesOf(got))
	}
	if hub.Online(7) != 1 || hub.Online(8) != 1 {
		t.Errorf("Online(7), Online(8) = %d, %d; want 1, 1", hub.Online(7), hub.Online(8))
	}
}

func TestHub_MultipleConnectionsSameUser(t *testing.T) {
	hub := NewHub()
	tab1, tab2, other := newTestClient(1), newTestClient(1), newTestClient(2)
	for _, c := range []*Client{tab1, tab2, other} {
		hub.Register(c)
	}
	hub.Join(other, ActiveUser{ID: 2}, 7)
	hub.Join(tab1, ActiveUser{ID: 1}, 7)
	hub.Join(tab2, ActiveUser{ID: 1}, 7)
	drain(t, other)

	hub.Unregister(tab1)
	got := drain(t, other)
	if len(got) != 1 || got[0].Type != TypeActiveUsers {
		t.Fatalf("first tab closing produced %v, want [active_users]", typesOf(got))
	}
	if ids := activeIDsOf(t, got[0]); len(ids) != 2 {
		t.Errorf("active users = %v, user 1 should still be present", ids)
	}

	hub.Leave(tab2)
	got = drain(t, other)
	if len(got) != 2 || got[0].Type != TypeUserLeft {
		t.Fatalf("last tab leaving produced %v, want [user_left active_users]", typesOf(got))
	}
	if ids := activeIDsOf(t, got[1]); len(ids) != 1 || ids[0] != 2 {
		t.Errorf("active users = %v, want [2]", ids)
	}
}

func TestHub_BroadcastOnlyToRoom(t *testing.T) {
	hub := NewHub()
	a, b := newTestClient(1), newTestClient(2)
	hub.Register(a)
	hub.Register(b)
	hub.Join(a, ActiveUser{ID: 1}, 1)
	hub.Join(b, ActiveUser{ID: 2}, 2)
	drain(t, a)
	drain(t, b)

	hub.Broadcast(1, pongEvent())

	if got := drain(t, a); len(got) != 1 {
		t.Errorf("room 1 client received %d events, want 1", len(got))
	}
	if got := drain(t, b); len(got) != 0 {
		t.Errorf("room 2 client received %v, want nothing", typesOf(got))
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub()
	fast := newTestClient(1)
	slow := &Client{id: "slow", send: make(chan []byte, 1), authUserID: 2}
	hub.Register(fast)
	hub.Register(slow)
	hub.Join(fast, ActiveUser{ID: 1}, 7)
	drain(t, fast)

	// user_joined fills slow's buffer, active_users overflows it.
	hub.Join(slow, ActiveUser{ID: 2}, 7)

	if !slow.closed {
		t.Fatal("slow client was not closed")
	}
	if _, _, ok := hub.Attachment(slow); ok {
		t.Error("slow client still attached")
	}
	got := drain(t, fast)
	want := []string{TypeUserJoined, TypeActiveUsers, TypeUserLeft, TypeActiveUsers}
	if len(got) != len(want) {
		t.Fatalf("fast received %v, want %v", typesOf(got), want)
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Fatalf("fast received %v, want %v", typesOf(got), want)
		}
	}
	if hub.Online(7) != 1 {
		t.Errorf("Online(7) = %d, want 1", hub.Online(7))
	}

	// Later sends to a dropped client are discarded silently.
	hub.SendTo(slow, pongEvent())
	hub.Unregister(slow)
}

func TestHub_UnregisterIdempotent(t *testing.T) {
	hub := NewHub()
	c := newTestClient(1)
	hub.Register(c)
	hub.Join(c, ActiveUser{ID: 1}, 7)

	hub.Unregister(c)
	hub.Unregister(c)

	if !c.closed {
		t.Error("Unregister() did not close the client")
	}
	if hub.Online(7) != 0 {
		t.Errorf("Online(7) = %d, want 0", hub.Online(7))
	}
}

func TestHub_Shutdown(t *testing.T) {
	hub := NewHub()
	a, b := newTestClient(1), newTestClient(2)
	hub.Register(a)
	hub.Register(b)

	hub.Shutdown()

	for _, c := range []*Client{a, b} {
		if _, ok := <-c.send; ok {
			t.Errorf("client %s send channel still open", c.id)
		}
	}
	hub.Unregister(a)
}

func TestHub_Concurrent(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	numClients := 10

	clients := make([]*Client, numClients)
	for i := range clients {
		clients[i] = newTestClient(uint(i + 1))
		hub.Register(clients[i])
	}
	for i, c := range clients {
		wg.Add(1)
		go func(id int, c *Client) {
			defer wg.Done()
			hub.Join(c, ActiveUser{ID: uint(id + 1)}, 1)
			hub.Broadcast(1, pongEvent())
		}(i, c)
	}
	wg.Wait()

	if hub.Online(1) != numClients {
		t.Errorf("Online() after concurrent join = %d, want %d", hub.Online(1), numClients)
	}

	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			hub.Unregister(c)
		}(c)
	}
	wg.Wait()

	if hub.Online(1) != 0 {
		t.Errorf("Online() after concurrent unregister = %d, want 0", hub.Online(1))
	}
}
