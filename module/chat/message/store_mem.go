package message

import (
	"context"
	"sort"
	"sync"
	"time"

	chatmodel "PPos/module/chat/model"
	"PPos/tools/errs"

	"github.com/google/uuid"
)

type memberKey struct {
	user  uuid.UUID
	scope uuid.UUID
}

// MemStore 内存实现，结构与 Postgres 表一一对应
type MemStore struct {
	mu             sync.RWMutex
	messages       map[uuid.UUID]*chatmodel.Message
	channels       map[uuid.UUID]*chatmodel.Channel
	channelMembers map[memberKey]*chatmodel.ChannelMember
	spaceMembers   map[memberKey]*chatmodel.SpaceMember
}

func NewMemStore() *MemStore {
	return &MemStore{
		messages:       make(map[uuid.UUID]*chatmodel.Message),
		channels:       make(map[uuid.UUID]*chatmodel.Channel),
		channelMembers: make(map[memberKey]*chatmodel.ChannelMember),
		spaceMembers:   make(map[memberKey]*chatmodel.SpaceMember),
	}
}

func (s *MemStore) PutChannel(c *chatmodel.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.channels[c.ID] = &cp
}

func (s *MemStore) PutChannelMember(m *chatmodel.ChannelMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.channelMembers[memberKey{m.UserID, m.ChannelID}] = &cp
}

func (s *MemStore) PutSpaceMember(m *chatmodel.SpaceMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.spaceMembers[memberKey{m.UserID, m.SpaceID}] = &cp
}

// PutMessage 直接写入，不经过发号（模拟绕过缓存的导入）
func (s *MemStore) PutMessage(m *chatmodel.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m.Clone()
}

func (s *MemStore) PosAggregate(_ context.Context, channelID uuid.UUID) (float64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	var count int64
	for _, m := range s.messages {
		if m.ChannelID == channelID {
			sum += m.Pos
			count++
		}
	}
	return sum, count, nil
}

func (s *MemStore) GetMessage(_ context.Context, id uuid.UUID) (*chatmodel.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("message", "id", id)
	}
	return m.Clone(), nil
}

func (s *MemStore) GetChannel(_ context.Context, id uuid.UUID) (*chatmodel.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("channel", "id", id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemStore) GetChannelMember(_ context.Context, userID, channelID uuid.UUID) (*chatmodel.ChannelMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.channelMembers[memberKey{userID, channelID}]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("channel member", "user", userID, "channel", channelID)
	}
	cp := *m
	return &cp, nil
}

func (s *MemStore) GetSpaceMember(_ context.Context, userID, spaceID uuid.UUID) (*chatmodel.SpaceMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.spaceMembers[memberKey{userID, spaceID}]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("space member", "user", userID, "space", spaceID)
	}
	cp := *m
	return &cp, nil
}

func (s *MemStore) CreateMessage(_ context.Context, m *chatmodel.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return errs.ErrArgs.WrapMsg("message already exists", "id", m.ID)
	}
	s.messages[m.ID] = m.Clone()
	return nil
}

func (s *MemStore) MoveBottom(_ context.Context, channelID, messageID uuid.UUID, a float64) (*chatmodel.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.messages[messageID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("message", "id", messageID)
	}
	var next float64
	hasNext := false
	for id, m := range s.messages {
		if id == messageID || m.ChannelID != channelID || m.Pos <= a {
			continue
		}
		if !hasNext || m.Pos < next {
			next, hasNext = m.Pos, true
		}
	}
	return s.place(target, channelID, posAfter(a, next, hasNext)), nil
}

func (s *MemStore) MoveAbove(_ context.Context, channelID, messageID uuid.UUID, b float64) (*chatmodel.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.messages[messageID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("message", "id", messageID)
	}
	var prev float64
	hasPrev := false
	for id, m := range s.messages {
		if id == messageID || m.ChannelID != channelID || m.Pos >= b {
			continue
		}
		if !hasPrev || m.Pos > prev {
			prev, hasPrev = m.Pos, true
		}
	}
	return s.place(target, channelID, posBefore(b, prev, hasPrev)), nil
}

func (s *MemStore) ListByChannel(_ context.Context, channelID uuid.UUID, before *float64, limit int) ([]*chatmodel.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*chatmodel.Message, 0)
	for _, m := range s.messages {
		if m.ChannelID != channelID || (before != nil && m.Pos >= *before) {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos < out[j].Pos })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemStore) EditMessage(_ context.Context, m *chatmodel.Message) (*chatmodel.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.messages[m.ID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("message", "id", m.ID)
	}
	edited := m.Clone()
	cur.Name = edited.Name
	cur.Text = edited.Text
	cur.InGame = edited.InGame
	cur.IsAction = edited.IsAction
	cur.MediaID = edited.MediaID
	cur.Color = edited.Color
	cur.Modified = time.Now().UTC()
	return cur.Clone(), nil
}

func (s *MemStore) SetFolded(_ context.Context, id uuid.UUID, folded bool) (*chatmodel.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("message", "id", id)
	}
	m.Folded = folded
	m.Modified = time.Now().UTC()
	return m.Clone(), nil
}

func (s *MemStore) DeleteMessage(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return errs.ErrRecordNotFound.WrapMsg("message", "id", id)
	}
	delete(s.messages, id)
	return nil
}

func (s *MemStore) place(m *chatmodel.Message, channelID uuid.UUID, p float64) *chatmodel.Message {
	m.ChannelID = channelID
	m.Pos = p
	m.Modified = time.Now().UTC()
	return m.Clone()
}
