package model

import "github.com/google/uuid"

// Channel IsDocument 为文档频道：任何成员都可以调整任意消息的顺序
type Channel struct {
	ID         uuid.UUID `json:"id"`
	SpaceID    uuid.UUID `json:"spaceId"`
	Name       string    `json:"name"`
	IsDocument bool      `json:"isDocument"`
	IsPublic   bool      `json:"isPublic"`
}

func (c *Channel) GetTableName() string {
	return "channels"
}

// ChannelMember IsMaster 为频道主持人
type ChannelMember struct {
	UserID        uuid.UUID `json:"userId"`
	ChannelID     uuid.UUID `json:"channelId"`
	CharacterName string    `json:"characterName"`
	IsMaster      bool      `json:"isMaster"`
}

func (c *ChannelMember) GetTableName() string {
	return "channel_members"
}

type SpaceMember struct {
	UserID  uuid.UUID `json:"userId"`
	SpaceID uuid.UUID `json:"spaceId"`
	IsAdmin bool      `json:"isAdmin"`
}

func (s *SpaceMember) GetTableName() string {
	return "space_members"
}
