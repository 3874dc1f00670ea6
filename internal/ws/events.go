package ws

import (
	"encoding/json"
	"time"

	"personachat/internal/models"
)

// 入站消息类型
const (
	TypeJoinRoom         = "join_room"
	TypeLeaveRoom        = "leave_room"
	TypeSendMessage      = "send_message"
	TypeSendAttachment   = "send_attachment"
	TypeSendVoiceMessage = "send_voice_message"
	TypePing             = "ping"
)

// 出站事件类型
const (
	TypePong           = "pong"
	TypeUserJoined     = "user_joined"
	TypeUserLeft       = "user_left"
	TypeRoomHistory    = "room_history"
	TypeActiveUsers    = "active_users"
	TypeNewMessage     = "new_message"
	TypePersonaTyping  = "persona_typing"
	TypeAIError        = "ai_error"
	TypeError          = "error"
	TypeMessageStarred = "message_starred"
)

// Envelope 是入站的 {type, payload} 帧，payload 按 type 延迟解码。
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event 是出站的 {type, payload} 帧。
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type joinRoomPayload struct {
	UserID uint `json:"userId"`
	RoomID uint `json:"roomId"`
}

type sendMessagePayload struct {
	Message   string `json:"message"`
	PersonaID *uint  `json:"personaId"`
}

type sendAttachmentPayload struct {
	URL            string                `json:"url"`
	FileName       string                `json:"fileName"`
	FileSize       int64                 `json:"fileSize"`
	FileType       string                `json:"fileType"`
	AttachmentType models.AttachmentType `json:"attachmentType"`
}

type sendVoiceMessagePayload struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

// ActiveUser 是在线列表中展示的用户摘要。
type ActiveUser struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func activeUserFrom(u *models.User) ActiveUser {
	return ActiveUser{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}

type PersonaView struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type AttachmentView struct {
	ID             uint                  `json:"id"`
	URL            string                `json:"url"`
	FileName       string                `json:"fileName"`
	FileSize       int64                 `json:"fileSize"`
	FileType       string                `json:"fileType"`
	AttachmentType models.AttachmentType `json:"attachmentType"`
}

// MessageView 是 new_message / room_history 中的消息，内嵌作者信息与附件。
type MessageView struct {
	ID          uint             `json:"id"`
	RoomID      uint             `json:"roomId"`
	UserID      *uint            `json:"userId"`
	PersonaID   *uint            `json:"personaId"`
	Content     string           `json:"content"`
	Starred     bool             `json:"starred"`
	CreatedAt   time.Time        `json:"createdAt"`
	User        *ActiveUser      `json:"user,omitempty"`
	Persona     *PersonaView     `json:"persona,omitempty"`
	Attachments []AttachmentView `json:"attachments,omitempty"`
}

// ViewOf 把存储模型转换为线上格式。
func ViewOf(m *models.Message) MessageView {
	v := MessageView{
		ID:        m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		PersonaID: m.PersonaID,
		Content:   m.Content,
		Starred:   m.Starred,
		CreatedAt: m.CreatedAt,
	}
	if m.User != nil {
		u := activeUserFrom(m.User)
		v.User = &u
	}
	if m.Persona != nil {
		v.Persona = &PersonaView{ID: m.Persona.ID, Name: m.Persona.Name, AvatarURL: m.Persona.AvatarURL}
	}
	for _, a := range m.Attachments {
		v.Attachments = append(v.Attachments, AttachmentView{
			ID:             a.ID,
			URL:            a.URL,
			FileName:       a.FileName,
			FileSize:       a.FileSize,
			FileType:       a.FileType,
			AttachmentType: a.AttachmentType,
		})
	}
	return v
}

func pongEvent() Event { return Event{Type: TypePong, Payload: struct{}{}} }

func userJoinedEvent(userID, roomID uint) Event {
	return Event{Type: TypeUserJoined, Payload: map[string]uint{"userId": userID, "roomId": roomID}}
}

func userLeftEvent(userID, roomID uint) Event {
	return Event{Type: TypeUserLeft, Payload: map[string]uint{"userId": userID, "roomId": roomID}}
}

func activeUsersEvent(roomID uint, users []ActiveUser) Event {
	return Event{Type: TypeActiveUsers, Payload: struct {
		RoomID      uint         `json:"roomId"`
		ActiveUsers []ActiveUser `json:"activeUsers"`
	}{roomID, users}}
}

func roomHistoryEvent(msgs []models.Message) Event {
	views := make([]MessageView, 0, len(msgs))
	for i := range msgs {
		views = append(views, ViewOf(&msgs[i]))
	}
	return Event{Type: TypeRoomHistory, Payload: map[string][]MessageView{"messages": views}}
}

func newMessageEvent(m *models.Message) Event {
	return Event{Type: TypeNewMessage, Payload: map[string]MessageView{"message": ViewOf(m)}}
}

func personaTypingEvent(personaID, roomID uint) Event {
	return Event{Type: TypePersonaTyping, Payload: map[string]uint{"personaId": personaID, "roomId": roomID}}
}

func aiErrorEvent(personaID uint, msg string) Event {
	return Event{Type: TypeAIError, Payload: struct {
		PersonaID uint   `json:"personaId"`
		Error     string `json:"error"`
	}{personaID, msg}}
}

func errorEvent(msg string) Event {
	return Event{Type: TypeError, Payload: map[string]string{"message": msg}}
}

// MessageStarredEvent 通知房间某条消息的收藏状态变化。
func MessageStarredEvent(m *models.Message) Event {
	return Event{Type: TypeMessageStarred, Payload: struct {
		MessageID uint `json:"messageId"`
		RoomID    uint `json:"roomId"`
		Starred   bool `json:"starred"`
	}{m.ID, m.RoomID, m.Starred}}
}
