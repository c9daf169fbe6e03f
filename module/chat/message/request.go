package message

import "github.com/google/uuid"

// MoveRequest Range 为锚点对 [a, b]：a 为下方锚点（放到 a 之后），b 为上方锚点（放到 b 之前），
// a 存在时忽略 b。
type MoveRequest struct {
	MessageID uuid.UUID   `json:"messageId" binding:"required"`
	ChannelID uuid.UUID   `json:"channelId" binding:"required"`
	Range     [2]*float64 `json:"range"`
}

func (r MoveRequest) Lower() *float64 { return r.Range[0] }
func (r MoveRequest) Upper() *float64 { return r.Range[1] }

// SendRequest 位置来源优先级：PreviewID > Pos > 新分配
type SendRequest struct {
	MessageID      *uuid.UUID  `json:"messageId"`
	PreviewID      *uuid.UUID  `json:"previewId"`
	ChannelID      uuid.UUID   `json:"channelId" binding:"required"`
	Name           string      `json:"name"`
	Text           string      `json:"text"`
	InGame         bool        `json:"inGame"`
	IsAction       bool        `json:"isAction"`
	MediaID        *uuid.UUID  `json:"mediaId"`
	WhisperToUsers []uuid.UUID `json:"whisperToUsers"`
	Pos            *float64    `json:"pos"`
	Color          string      `json:"color"`
}

type PreviewRequest struct {
	ID        uuid.UUID `json:"id" binding:"required"`
	ChannelID uuid.UUID `json:"channelId" binding:"required"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	InGame    bool      `json:"inGame"`
	IsAction  bool      `json:"isAction"`
	Edit      bool      `json:"edit"`
}

type CancelPreviewRequest struct {
	ID        uuid.UUID `json:"id" binding:"required"`
	ChannelID uuid.UUID `json:"channelId" binding:"required"`
}

// EditRequest 内容字段整体覆盖
type EditRequest struct {
	MessageID uuid.UUID  `json:"messageId" binding:"required"`
	Name      string     `json:"name"`
	Text      string     `json:"text"`
	InGame    bool       `json:"inGame"`
	IsAction  bool       `json:"isAction"`
	MediaID   *uuid.UUID `json:"mediaId"`
	Color     string     `json:"color"`
}

const (
	DefaultPageLimit = 128
	MaxPageLimit     = 1024
)

// ByChannelRequest Limit <= 0 取 DefaultPageLimit
type ByChannelRequest struct {
	ChannelID uuid.UUID
	Before    *float64
	Limit     int
}

type ResetPosRequest struct {
	ChannelID uuid.UUID `json:"channelId" binding:"required"`
}
