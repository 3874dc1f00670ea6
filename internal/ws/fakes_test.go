package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"personachat/internal/ai"
	"personachat/internal/models"
	"personachat/internal/store"

	"github.com/stretchr/testify/require"
)

// memGateway is an in-memory store.Gateway.
type memGateway struct {
	mu          sync.Mutex
	nextID      uint
	messages    []models.Message
	attachments []models.Attachment
	users       map[uint]*models.User
	rooms       map[uint]*models.Room
	personas    map[uint]*models.Persona

	// failCreate, when set, is consulted before every message insert.
	failCreate func(msg *models.Message) error
}

func newMemGateway() *memGateway {
	return &memGateway{
		users:    make(map[uint]*models.User),
		rooms:    make(map[uint]*models.Room),
		personas: make(map[uint]*models.Persona),
	}
}

func (g *memGateway) addUser(id uint, name string) *models.User {
	u := &models.User{ID: id, Username: name}
	g.users[id] = u
	return u
}

func (g *memGateway) addRoom(id uint, name string) {
	g.rooms[id] = &models.Room{ID: id, Name: name}
}

func (g *memGateway) addPersona(id uint, name string) {
	g.personas[id] = &models.Persona{ID: id, Name: name, Description: name + " persona"}
}

func (g *memGateway) insertLocked(msg *models.Message) error {
	if !msg.HasSingleAuthor() {
		return store.ErrInvalidMessage
	}
	if g.failCreate != nil {
		if err := g.failCreate(msg); err != nil {
			return err
		}
	}
	g.nextID++
	msg.ID = g.nextID
	msg.CreatedAt = time.Now()
	row := *msg
	row.User, row.Persona, row.Attachments = nil, nil, nil
	g.messages = append(g.messages, row)
	return nil
}

func (g *memGateway) CreateMessage(_ context.Context, msg *models.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.insertLocked(msg)
}

func (g *memGateway) CreateMessageWithAttachment(_ context.Context, msg *models.Message, att *models.Attachment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.insertLocked(msg); err != nil {
		return err
	}
	att.ID = uint(len(g.attachments) + 1)
	att.MessageID = msg.ID
	g.attachments = append(g.attachments, *att)
	msg.Attachments = []models.Attachment{*att}
	return nil
}

func (g *memGateway) MessagesByRoom(_ context.Context, roomID uint, limit int) ([]models.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []models.Message
	for _, m := range g.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (g *memGateway) GetMessage(_ context.Context, id uint) (*models.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.messages {
		if g.messages[i].ID == id {
			m := g.messages[i]
			return &m, nil
		}
	}
	return nil, store.ErrMessageNotFound
}

func (g *memGateway) CreateAttachment(_ context.Context, att *models.Attachment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.messages {
		if m.ID == att.MessageID {
			att.ID = uint(len(g.attachments) + 1)
			g.attachments = append(g.attachments, *att)
			return nil
		}
	}
	return store.ErrMessageNotFound
}

func (g *memGateway) StarMessage(_ context.Context, id uint, starred bool) (*models.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.messages {
		if g.messages[i].ID == id {
			g.messages[i].Starred = starred
			m := g.messages[i]
			return &m, nil
		}
	}
	return nil, store.ErrMessageNotFound
}

func (g *memGateway) GetUser(_ context.Context, id uint) (*models.User, error) {
	if u, ok := g.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrUserNotFound
}

func (g *memGateway) AllUsers(context.Context) ([]models.User, error) {
	var out []models.User
	for _, u := range g.users {
		out = append(out, *u)
	}
	return out, nil
}

func (g *memGateway) GetPersona(_ context.Context, id uint) (*models.Persona, error) {
	if p, ok := g.personas[id]; ok {
		return p, nil
	}
	return nil, store.ErrPersonaNotFound
}

func (g *memGateway) GetRoom(_ context.Context, id uint) (*models.Room, error) {
	if r, ok := g.rooms[id]; ok {
		return r, nil
	}
	return nil, store.ErrRoomNotFound
}

func (g *memGateway) storedMessages() []models.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Message(nil), g.messages...)
}

func (g *memGateway) storedAttachments() []models.Attachment {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Attachment(nil), g.attachments...)
}

// fakeGenerator returns a canned reply or error and records its input.
type fakeGenerator struct {
	reply   string
	err     error
	release chan struct{}

	calls atomic.Int32
	mu    sync.Mutex
	seen  []models.Message
}

func (f *fakeGenerator) GenerateReply(ctx context.Context, _ models.Persona, contextMessages []models.Message) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append([]models.Message(nil), contextMessages...)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ai.ErrGeneration, ctx.Err())
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) lastContext() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen
}

var testClientSeq atomic.Int32

func newTestClient(authUserID uint) *Client {
	return &Client{
		id:         fmt.Sprintf("test-%d", testClientSeq.Add(1)),
		send:       make(chan []byte, sendBufferSize),
		authUserID: authUserID,
	}
}

// drain returns every event currently queued for c without blocking.
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func typesOf(envs []Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Type)
	}
	return out
}

func messageOf(t *testing.T, env Envelope) MessageView {
	t.Helper()
	require.Equal(t, TypeNewMessage, env.Type)
	var p struct {
		Message MessageView `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p.Message
}

func errorTextOf(t *testing.T, env Envelope) string {
	t.Helper()
	require.Equal(t, TypeError, env.Type)
	var p struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p.Message
}

func activeIDsOf(t *testing.T, env Envelope) []uint {
	t.Helper()
	require.Equal(t, TypeActiveUsers, env.Type)
	var p struct {
		RoomID      uint         `json:"roomId"`
		ActiveUsers []ActiveUser `json:"activeUsers"`
	}
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	ids := make([]uint, 0, len(p.ActiveUsers))
	for _, u := range p.ActiveUsers {
		ids = append(ids, u.ID)
	}
	return ids
}

func frame(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(Envelope{Type: typ, Payload: raw})
	require.NoError(t, err)
	return data
}
