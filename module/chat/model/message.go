package model

import (
	"time"

	"github.com/google/uuid"
)

// Message 频道内的一条消息。Pos 为排序键：发号得到整数，移动后可能是两个邻居的中点。
type Message struct {
	ID             uuid.UUID   `json:"id"`
	ChannelID      uuid.UUID   `json:"channelId"`
	SenderID       uuid.UUID   `json:"senderId"`
	Name           string      `json:"name"`
	Text           string      `json:"text"`
	InGame         bool        `json:"inGame"`
	IsAction       bool        `json:"isAction"`
	IsMaster       bool        `json:"isMaster"`
	WhisperToUsers []uuid.UUID `json:"whisperToUsers"` // nil 表示公开消息
	MediaID        *uuid.UUID  `json:"mediaId"`
	Color          string      `json:"color"`
	Folded         bool        `json:"folded"`
	Pos            float64     `json:"pos"`
	Created        time.Time   `json:"created"`
	Modified       time.Time   `json:"modified"`
}

// 集合/表字段名，Postgres 与 Mongo 共用
const (
	MsgFieldID             = "id"
	MsgFieldChannelID      = "channel_id"
	MsgFieldSenderID       = "sender_id"
	MsgFieldName           = "name"
	MsgFieldText           = "text"
	MsgFieldInGame         = "in_game"
	MsgFieldIsAction       = "is_action"
	MsgFieldIsMaster       = "is_master"
	MsgFieldWhisperToUsers = "whisper_to_users"
	MsgFieldMediaID        = "media_id"
	MsgFieldColor          = "color"
	MsgFieldFolded         = "folded"
	MsgFieldPos            = "pos"
	MsgFieldCreated        = "created"
	MsgFieldModified       = "modified"
)

func (m *Message) GetTableName() string {
	return "messages"
}

// IsWhisper 悄悄话：有指定接收人
func (m *Message) IsWhisper() bool {
	return m.WhisperToUsers != nil
}

// VisibleTo 悄悄话只对发送者和接收人可见，uuid.Nil 表示未登录
func (m *Message) VisibleTo(userID uuid.UUID) bool {
	if !m.IsWhisper() {
		return true
	}
	if userID == uuid.Nil {
		return false
	}
	if m.SenderID == userID {
		return true
	}
	for _, u := range m.WhisperToUsers {
		if u == userID {
			return true
		}
	}
	return false
}

// Hide 广播前隐藏悄悄话内容，位置等元数据保留
func (m *Message) Hide() {
	m.Text = ""
	m.MediaID = nil
}

// Clone 深拷贝，广播时隐藏内容不影响返回给发送者的那份
func (m *Message) Clone() *Message {
	cp := *m
	if m.WhisperToUsers != nil {
		cp.WhisperToUsers = append([]uuid.UUID{}, m.WhisperToUsers...)
	}
	if m.MediaID != nil {
		id := *m.MediaID
		cp.MediaID = &id
	}
	return &cp
}

// Preview 草稿预览，位置来自预览槽
type Preview struct {
	ID        uuid.UUID `json:"id"`
	ChannelID uuid.UUID `json:"channelId"`
	SenderID  uuid.UUID `json:"senderId"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	InGame    bool      `json:"inGame"`
	IsAction  bool      `json:"isAction"`
	IsMaster  bool      `json:"isMaster"`
	Pos       float64   `json:"pos"`
	Edit      bool      `json:"edit"`
	Clear     bool      `json:"clear"`
}
