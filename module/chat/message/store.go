package message

import (
	"context"

	chatmodel "PPos/module/chat/model"
	"PPos/module/chat/pos"

	"github.com/google/uuid"
)

// Store 持久层抽象：生产实现 Postgres/Mongo；测试与本地开发用内存实现（store_mem.go）。
// 找不到记录统一返回 errs.ErrRecordNotFound。
type Store interface {
	pos.Aggregator

	GetMessage(ctx context.Context, id uuid.UUID) (*chatmodel.Message, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*chatmodel.Channel, error)
	GetChannelMember(ctx context.Context, userID, channelID uuid.UUID) (*chatmodel.ChannelMember, error)
	GetSpaceMember(ctx context.Context, userID, spaceID uuid.UUID) (*chatmodel.SpaceMember, error)

	CreateMessage(ctx context.Context, m *chatmodel.Message) error

	// MoveBottom 放到锚点 a 之后（a 与下一条之间的中点，没有下一条则 a+1）
	MoveBottom(ctx context.Context, channelID, messageID uuid.UUID, a float64) (*chatmodel.Message, error)
	// MoveAbove 放到锚点 b 之前（上一条与 b 之间的中点，没有上一条则 b-1）
	MoveAbove(ctx context.Context, channelID, messageID uuid.UUID, b float64) (*chatmodel.Message, error)

	// ListByChannel pos < before 的最后 limit 条（before 为 nil 不限），按 pos 升序返回
	ListByChannel(ctx context.Context, channelID uuid.UUID, before *float64, limit int) ([]*chatmodel.Message, error)
	// EditMessage 只覆盖内容字段（name/text/in_game/is_action/media_id/color），位置和频道不变
	EditMessage(ctx context.Context, m *chatmodel.Message) (*chatmodel.Message, error)
	SetFolded(ctx context.Context, id uuid.UUID, folded bool) (*chatmodel.Message, error)
	DeleteMessage(ctx context.Context, id uuid.UUID) error
}

func posAfter(a float64, next float64, hasNext bool) float64 {
	if !hasNext {
		return a + 1
	}
	return (a + next) / 2
}

func posBefore(b float64, prev float64, hasPrev bool) float64 {
	if !hasPrev {
		return b - 1
	}
	return (prev + b) / 2
}
