package message

import (
	"context"

	chatmodel "PPos/module/chat/model"

	"github.com/google/uuid"
)

const (
	EventNewMessage     = "NEW_MESSAGE"
	EventMessageEdited  = "MESSAGE_EDITED"
	EventMessagePreview = "MESSAGE_PREVIEW"
	EventMessageDeleted = "MESSAGE_DELETED"
)

// Event 推送给空间内所有连接的事件体
type Event struct {
	Type      string             `json:"type"`
	ChannelID uuid.UUID          `json:"channelId"`
	MessageID *uuid.UUID         `json:"messageId,omitempty"`
	Message   *chatmodel.Message `json:"message,omitempty"`
	PreviewID *uuid.UUID         `json:"previewId,omitempty"`
	Preview   *chatmodel.Preview `json:"preview,omitempty"`
}

// Publisher 事件广播（NATS 实现见 service/natsx）
type Publisher interface {
	Publish(ctx context.Context, spaceID uuid.UUID, ev Event) error
}

// DiscardPublisher 未配置广播时使用
type DiscardPublisher struct{}

func (DiscardPublisher) Publish(context.Context, uuid.UUID, Event) error { return nil }

func newMessageEvent(m *chatmodel.Message, previewID *uuid.UUID) Event {
	return Event{
		Type:      EventNewMessage,
		ChannelID: m.ChannelID,
		Message:   broadcastCopy(m),
		PreviewID: previewID,
	}
}

func messageEditedEvent(m *chatmodel.Message) Event {
	return Event{
		Type:      EventMessageEdited,
		ChannelID: m.ChannelID,
		Message:   broadcastCopy(m),
	}
}

func messageDeletedEvent(m *chatmodel.Message) Event {
	id := m.ID
	return Event{
		Type:      EventMessageDeleted,
		ChannelID: m.ChannelID,
		MessageID: &id,
	}
}

func previewEvent(p *chatmodel.Preview) Event {
	return Event{
		Type:      EventMessagePreview,
		ChannelID: p.ChannelID,
		Preview:   p,
	}
}

// viewOf 返回给某个读者的副本，看不到的悄悄话隐藏内容
func viewOf(m *chatmodel.Message, viewer uuid.UUID) *chatmodel.Message {
	cp := m.Clone()
	if !cp.VisibleTo(viewer) {
		cp.Hide()
	}
	return cp
}

// 悄悄话对外只暴露位置，不暴露内容
func broadcastCopy(m *chatmodel.Message) *chatmodel.Message {
	cp := m.Clone()
	if cp.IsWhisper() {
		cp.Hide()
	}
	return cp
}
