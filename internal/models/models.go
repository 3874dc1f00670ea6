package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	AvatarURL    string `gorm:"size:512"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:128;not null"`
	OwnerID   uint   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Persona 是可生成角色化回复的 AI 人设，对实时核心只读。
type Persona struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"size:128;not null"`
	Description  string `gorm:"type:text"`
	SamplePrompt string `gorm:"type:text"`
	AvatarURL    string `gorm:"size:512"`
	IsDefault    bool   `gorm:"not null;default:false"`
	CreatedBy    *uint  `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message 的作者是 UserID 与 PersonaID 二选一。
type Message struct {
	ID          uint     `gorm:"primaryKey"`
	RoomID      uint     `gorm:"index:idx_msg_room_id;not null"`
	UserID      *uint    `gorm:"index"`
	PersonaID   *uint    `gorm:"index"`
	Content     string   `gorm:"type:text;not null"`
	Starred     bool     `gorm:"not null;default:false"`
	User        *User    `gorm:"foreignKey:UserID"`
	Persona     *Persona `gorm:"foreignKey:PersonaID"`
	Attachments []Attachment
	CreatedAt   time.Time
}

// HasSingleAuthor 校验作者字段恰好设置了一个。
func (m *Message) HasSingleAuthor() bool {
	return (m.UserID == nil) != (m.PersonaID == nil)
}

type AttachmentType string

const (
	AttachmentImage        AttachmentType = "image"
	AttachmentAudio        AttachmentType = "audio"
	AttachmentVideo        AttachmentType = "video"
	AttachmentDocument     AttachmentType = "document"
	AttachmentVoiceMessage AttachmentType = "voice_message"
)

// Valid 判断附件类型是否属于封闭枚举。
func (t AttachmentType) Valid() bool {
	switch t {
	case AttachmentImage, AttachmentAudio, AttachmentVideo, AttachmentDocument, AttachmentVoiceMessage:
		return true
	}
	return false
}

type Attachment struct {
	ID             uint           `gorm:"primaryKey"`
	MessageID      uint           `gorm:"index;not null"`
	URL            string         `gorm:"size:1024;not null"`
	FileName       string         `gorm:"size:255;not null"`
	FileSize       int64          `gorm:"not null"`
	FileType       string         `gorm:"size:128"`
	AttachmentType AttachmentType `gorm:"size:32;not null"`
	CreatedAt      time.Time
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
