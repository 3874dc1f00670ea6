package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"personachat/internal/models"
	"personachat/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryLimit = 50
	voiceMessageBody    = "Voice message"
)

// Dispatcher 解码入站帧并路由到 Hub / 存储 / Orchestrator。
// 所有按请求的错误都在这里收口，只回报给发起连接。
type Dispatcher struct {
	hub          *Hub
	store        store.Gateway
	orch         *Orchestrator
	historyLimit int

	inflight sync.WaitGroup
}

func NewDispatcher(hub *Hub, gw store.Gateway, orch *Orchestrator, historyLimit int) *Dispatcher {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Dispatcher{hub: hub, store: gw, orch: orch, historyLimit: historyLimit}
}

// Handle 处理一条入站帧。
func (d *Dispatcher) Handle(ctx context.Context, c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		d.hub.SendTo(c, errorEvent("Invalid message format"))
		return
	}

	var err error
	switch env.Type {
	case TypeJoinRoom:
		err = d.joinRoom(ctx, c, env.Payload)
	case TypeLeaveRoom:
		d.hub.Leave(c)
	case TypeSendMessage:
		err = d.sendMessage(ctx, c, env.Payload)
	case TypeSendAttachment:
		err = d.sendAttachment(ctx, c, env.Payload)
	case TypeSendVoiceMessage:
		err = d.sendVoiceMessage(ctx, c, env.Payload)
	case TypePing:
		d.hub.SendTo(c, pongEvent())
	default:
		log.Debug().Str("conn_id", c.id).Str("type", env.Type).Msg("unknown message type")
		return
	}
	if err != nil {
		d.reject(c, env.Type, err)
	}
}

func (d *Dispatcher) reject(c *Client, typ string, err error) {
	var perr *PersistenceError
	if errors.As(err, &perr) {
		log.Error().Err(err).Str("conn_id", c.id).Str("type", typ).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("conn_id", c.id).Str("type", typ).Msg("request rejected")
	}
	d.hub.SendTo(c, errorEvent(clientMessage(err)))
}

// Disconnect 是传输关闭时唯一保证执行的清理路径。
func (d *Dispatcher) Disconnect(c *Client) {
	d.hub.Unregister(c)
}

// Wait 等待所有进行中的人设回复结束。
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return protocolError("Invalid message format")
	}
	return nil
}

func (d *Dispatcher) joinRoom(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p joinRoomPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.RoomID == 0 {
		return protocolError("roomId is required")
	}
	userID := p.UserID
	if userID == 0 {
		userID = c.authUserID
	}
	if userID == 0 {
		return protocolError("userId is required")
	}
	if c.authUserID != 0 && userID != c.authUserID {
		return ErrIdentityMismatch
	}

	user, err := d.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return &PersistenceError{Op: "join room", Err: err}
	}
	if _, err := d.store.GetRoom(ctx, p.RoomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		return &PersistenceError{Op: "join room", Err: err}
	}

	c.user = user
	d.hub.Join(c, activeUserFrom(user), p.RoomID)
	log.Info().Str("conn_id", c.id).Uint("user_id", user.ID).Uint("room_id", p.RoomID).Msg("joined room")

	history, err := d.store.MessagesByRoom(ctx, p.RoomID, d.historyLimit)
	if err != nil {
		return &PersistenceError{Op: "load history", Err: err}
	}
	d.hub.SendTo(c, roomHistoryEvent(history))
	return nil
}

// joined 返回连接当前的作者身份与房间。
func (d *Dispatcher) joined(c *Client) (*models.User, uint, error) {
	userID, roomID, ok := d.hub.Attachment(c)
	if !ok || c.user == nil || c.user.ID != userID {
		return nil, 0, ErrNotJoined
	}
	return c.user, roomID, nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p sendMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	user, roomID, err := d.joined(c)
	if err != nil {
		return err
	}
	body := strings.TrimSpace(p.Message)
	if body == "" {
		return protocolError("Message cannot be empty")
	}

	msg := &models.Message{RoomID: roomID, UserID: &user.ID, Content: body}
	if err := d.orch.Post(ctx, user, msg); err != nil {
		return err
	}
	if p.PersonaID != nil {
		d.respond(c, msg, *p.PersonaID)
	}
	return nil
}

// respond 在后台执行人设回复；发起连接断开不会取消它。
func (d *Dispatcher) respond(c *Client, trigger *models.Message, personaID uint) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		out := d.orch.Respond(context.Background(), trigger, personaID)
		log.Debug().Stringer("stage", out.Stage).Uint("trigger_id", trigger.ID).Uint("persona_id", personaID).Msg("persona reply finished")
		if out.Stage == StageTyping && out.Err != nil {
			d.reject(c, TypeSendMessage, out.Err)
		}
	}()
}

func (d *Dispatcher) sendAttachment(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p sendAttachmentPayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if !p.AttachmentType.Valid() {
		return protocolError("Invalid attachment type")
	}
	if p.URL == "" {
		return protocolError("Attachment url is required")
	}
	user, roomID, err := d.joined(c)
	if err != nil {
		return err
	}
	body := p.FileName
	if body == "" {
		body = "Sent an attachment"
	}
	msg := &models.Message{RoomID: roomID, UserID: &user.ID, Content: body}
	att := &models.Attachment{
		URL:            p.URL,
		FileName:       p.FileName,
		FileSize:       p.FileSize,
		FileType:       p.FileType,
		AttachmentType: p.AttachmentType,
	}
	return d.orch.PostWithAttachment(ctx, user, msg, att)
}

func (d *Dispatcher) sendVoiceMessage(ctx context.Context, c *Client, raw json.RawMessage) error {
	var p sendVoiceMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		return err
	}
	if p.URL == "" {
		return protocolError("Voice message url is required")
	}
	user, roomID, err := d.joined(c)
	if err != nil {
		return err
	}
	msg := &models.Message{RoomID: roomID, UserID: &user.ID, Content: voiceMessageBody}
	att := &models.Attachment{
		URL:            p.URL,
		FileName:       p.FileName,
		FileSize:       p.FileSize,
		FileType:       p.FileType,
		AttachmentType: models.AttachmentVoiceMessage,
	}
	return d.orch.PostWithAttachment(ctx, user, msg, att)
}
