package message

import (
	"context"
	"errors"
	"math"
	"time"

	chatmodel "PPos/module/chat/model"
	"PPos/module/chat/pos"
	"PPos/service/metrics"
	"PPos/tools/errs"
	"PPos/tools/safe"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service 消息创建/预览/移动入口。鉴权之外的身份认证由调用方（HTTP 层）负责。
type Service struct {
	store       Store
	alloc       *pos.Allocator
	pub         Publisher
	keepSeconds int64
	log         *zap.Logger
}

func NewService(store Store, alloc *pos.Allocator, pub Publisher, keepSeconds int64, log *zap.Logger) *Service {
	safe.MustNotNil(store, "store")
	safe.MustNotNil(alloc, "allocator")
	if pub == nil {
		pub = DiscardPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:       store,
		alloc:       alloc,
		pub:         pub,
		keepSeconds: keepSeconds,
		log:         log,
	}
}

// CanMove 文档频道、主持人、或消息作者本人可以移动消息
func CanMove(channel *chatmodel.Channel, member *chatmodel.ChannelMember, msg *chatmodel.Message, userID uuid.UUID) bool {
	return channel.IsDocument || member.IsMaster || msg.SenderID == userID
}

// MoveBetween 把消息移动到锚点旁边，插值由持久层完成。
// 两个锚点都为空时直接拒绝，不做任何读写。
// 目标频道与消息所在频道不同时，两边都要过移动鉴权，且必须同属一个空间。
func (s *Service) MoveBetween(ctx context.Context, userID uuid.UUID, req MoveRequest) (*chatmodel.Message, error) {
	a, b := req.Lower(), req.Upper()
	if a == nil && b == nil {
		return nil, errs.ErrArgs.WrapMsg("a and b cannot both be null")
	}

	msg, err := s.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	channel, err := s.movableIn(ctx, userID, msg, msg.ChannelID)
	if err != nil {
		return nil, err
	}
	target := channel
	if req.ChannelID != msg.ChannelID {
		if target, err = s.movableIn(ctx, userID, msg, req.ChannelID); err != nil {
			return nil, err
		}
		if target.SpaceID != channel.SpaceID {
			return nil, errs.ErrArgs.WrapMsg("cannot move a message to another space",
				"message", msg.ID, "from", channel.ID, "to", target.ID)
		}
	}

	var (
		moved     *chatmodel.Message
		direction string
	)
	if a != nil {
		direction = "bottom"
		moved, err = s.store.MoveBottom(ctx, target.ID, req.MessageID, *a)
	} else {
		direction = "top"
		moved, err = s.store.MoveAbove(ctx, target.ID, req.MessageID, *b)
	}
	if err != nil {
		metrics.Moves.WithLabelValues(direction, "error").Inc()
		return nil, err
	}
	metrics.Moves.WithLabelValues(direction, "ok").Inc()

	// 移到末尾时新位置可能越过缓存水位，抬高它避免之后发出重复的号。
	// 持久层已经提交，这里失败只记日志。
	if err := s.alloc.RaiseWatermark(ctx, target.ID, int64(math.Ceil(moved.Pos))); err != nil {
		s.log.Warn("raise watermark after move failed",
			zap.Stringer("channel", target.ID),
			zap.Float64("pos", moved.Pos),
			zap.Error(err))
	}

	ev := messageEditedEvent(moved)
	s.publish(ctx, target.SpaceID, ev)
	return ev.Message, nil
}

// movableIn 校验 userID 能否在 channelID 里移动 msg，返回该频道
func (s *Service) movableIn(ctx context.Context, userID uuid.UUID, msg *chatmodel.Message, channelID uuid.UUID) (*chatmodel.Channel, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	member, err := s.member(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	if !CanMove(channel, member, msg, userID) {
		return nil, errs.ErrNoPermission.WrapMsg("only the master can move other's messages",
			"user", userID, "message", msg.ID, "channel", channelID)
	}
	return channel, nil
}

// ToggleFold 折叠/展开，鉴权与移动相同
func (s *Service) ToggleFold(ctx context.Context, userID, messageID uuid.UUID) (*chatmodel.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	channel, err := s.movableIn(ctx, userID, msg, msg.ChannelID)
	if err != nil {
		return nil, err
	}
	folded, err := s.store.SetFolded(ctx, messageID, !msg.Folded)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, channel.SpaceID, messageEditedEvent(folded))
	return viewOf(folded, userID), nil
}

// Edit 覆盖消息内容。普通频道只有作者能改，文档频道任何成员都能改。
func (s *Service) Edit(ctx context.Context, userID uuid.UUID, req EditRequest) (*chatmodel.Message, error) {
	msg, err := s.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	channel, err := s.store.GetChannel(ctx, msg.ChannelID)
	if err != nil {
		return nil, err
	}
	if _, err := s.member(ctx, userID, msg.ChannelID); err != nil {
		return nil, err
	}
	if !channel.IsDocument && msg.SenderID != userID {
		return nil, errs.ErrNoPermission.WrapMsg("only the sender can edit the message",
			"user", userID, "message", msg.ID)
	}

	msg.Name = req.Name
	msg.Text = req.Text
	msg.InGame = req.InGame
	msg.IsAction = req.IsAction
	msg.MediaID = req.MediaID
	msg.Color = req.Color
	edited, err := s.store.EditMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, channel.SpaceID, messageEditedEvent(edited))
	return viewOf(edited, userID), nil
}

// Delete 空间管理员或作者可以删除。位置不回收，水位不动。
func (s *Service) Delete(ctx context.Context, userID, messageID uuid.UUID) (*chatmodel.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	channel, err := s.store.GetChannel(ctx, msg.ChannelID)
	if err != nil {
		return nil, err
	}
	sm, err := s.store.GetSpaceMember(ctx, userID, channel.SpaceID)
	if errors.Is(err, errs.ErrRecordNotFound) {
		return nil, errs.ErrNoPermission.WrapMsg("not a space member", "user", userID, "space", channel.SpaceID)
	}
	if err != nil {
		return nil, err
	}
	if !sm.IsAdmin && msg.SenderID != userID {
		return nil, errs.ErrNoPermission.WrapMsg("only the sender or a space admin can delete the message",
			"user", userID, "message", msg.ID)
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return nil, err
	}
	s.publish(ctx, channel.SpaceID, messageDeletedEvent(msg))
	return viewOf(msg, userID), nil
}

// Query 单条查询。viewer 为 uuid.Nil 表示未登录，只能看公开频道。
func (s *Service) Query(ctx context.Context, viewer, messageID uuid.UUID) (*chatmodel.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.readable(ctx, viewer, msg.ChannelID); err != nil {
		return nil, err
	}
	return viewOf(msg, viewer), nil
}

// ByChannel 按 pos 升序分页：取 before 之前的最后 limit 条，下一页用本页第一条的 pos 作 before
func (s *Service) ByChannel(ctx context.Context, viewer uuid.UUID, req ByChannelRequest) ([]*chatmodel.Message, error) {
	if _, err := s.readable(ctx, viewer, req.ChannelID); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	list, err := s.store.ListByChannel(ctx, req.ChannelID, req.Before, limit)
	if err != nil {
		return nil, err
	}
	for i, m := range list {
		list[i] = viewOf(m, viewer)
	}
	return list, nil
}

// readable 公开频道任何人可读，否则必须登录且是频道成员
func (s *Service) readable(ctx context.Context, viewer, channelID uuid.UUID) (*chatmodel.Channel, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if channel.IsPublic {
		return channel, nil
	}
	if viewer == uuid.Nil {
		return nil, errs.ErrTokenInvalid.WrapMsg("login required for private channel", "channel", channelID)
	}
	if _, err := s.member(ctx, viewer, channelID); err != nil {
		return nil, err
	}
	return channel, nil
}

// Send 创建消息。发号失败直接中止，不会用占位位置落库。
func (s *Service) Send(ctx context.Context, userID uuid.UUID, req SendRequest) (*chatmodel.Message, error) {
	member, err := s.member(ctx, userID, req.ChannelID)
	if err != nil {
		return nil, err
	}
	channel, err := s.store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}

	p, err := s.sendPos(ctx, req)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	if req.MessageID != nil {
		id = *req.MessageID
	}
	name := req.Name
	if name == "" {
		name = member.CharacterName
	}
	now := time.Now().UTC()
	m := &chatmodel.Message{
		ID:             id,
		ChannelID:      req.ChannelID,
		SenderID:       userID,
		Name:           name,
		Text:           req.Text,
		InGame:         req.InGame,
		IsAction:       req.IsAction,
		IsMaster:       member.IsMaster,
		WhisperToUsers: req.WhisperToUsers,
		MediaID:        req.MediaID,
		Color:          req.Color,
		Pos:            p,
		Created:        now,
		Modified:       now,
	}
	if err := s.store.CreateMessage(ctx, m); err != nil {
		return nil, err
	}

	if req.PreviewID != nil {
		if err := s.alloc.Finished(ctx, req.ChannelID, *req.PreviewID); err != nil {
			s.log.Warn("drop preview slot failed",
				zap.Stringer("channel", req.ChannelID),
				zap.Stringer("preview", *req.PreviewID),
				zap.Error(err))
		}
	}

	s.publish(ctx, channel.SpaceID, newMessageEvent(m, req.PreviewID))
	return m, nil
}

func (s *Service) sendPos(ctx context.Context, req SendRequest) (float64, error) {
	switch {
	case req.PreviewID != nil:
		p, err := s.alloc.Pos(ctx, req.ChannelID, *req.PreviewID, s.keepSeconds)
		return float64(p), err
	case req.Pos != nil:
		if err := s.alloc.RaiseWatermark(ctx, req.ChannelID, int64(math.Ceil(*req.Pos))); err != nil {
			return 0, err
		}
		return *req.Pos, nil
	default:
		p, err := s.alloc.AllocNewPos(ctx, req.ChannelID)
		return float64(p), err
	}
}

// Preview 为草稿预留位置并广播，重复调用拿到同一个位置
func (s *Service) Preview(ctx context.Context, userID uuid.UUID, req PreviewRequest) (*chatmodel.Preview, error) {
	member, err := s.member(ctx, userID, req.ChannelID)
	if err != nil {
		return nil, err
	}
	channel, err := s.store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return nil, err
	}
	p, err := s.alloc.Pos(ctx, req.ChannelID, req.ID, s.keepSeconds)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = member.CharacterName
	}
	preview := &chatmodel.Preview{
		ID:        req.ID,
		ChannelID: req.ChannelID,
		SenderID:  userID,
		Name:      name,
		Text:      req.Text,
		InGame:    req.InGame,
		IsAction:  req.IsAction,
		IsMaster:  member.IsMaster,
		Pos:       float64(p),
		Edit:      req.Edit,
	}
	s.publish(ctx, channel.SpaceID, previewEvent(preview))
	return preview, nil
}

// CancelPreview 放弃草稿：释放预览槽并通知客户端清除预览，已占的号不回收
func (s *Service) CancelPreview(ctx context.Context, userID uuid.UUID, req CancelPreviewRequest) error {
	if _, err := s.member(ctx, userID, req.ChannelID); err != nil {
		return err
	}
	channel, err := s.store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	if err := s.alloc.Finished(ctx, req.ChannelID, req.ID); err != nil {
		return err
	}
	s.publish(ctx, channel.SpaceID, previewEvent(&chatmodel.Preview{
		ID:        req.ID,
		ChannelID: req.ChannelID,
		SenderID:  userID,
		Clear:     true,
	}))
	return nil
}

// ResetChannelPos 持久层发生缓存无法感知的变化（批量导入、合并）后由主持人或空间管理员触发
func (s *Service) ResetChannelPos(ctx context.Context, userID uuid.UUID, req ResetPosRequest) error {
	channel, err := s.store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		return err
	}
	allowed := false
	member, err := s.store.GetChannelMember(ctx, userID, req.ChannelID)
	switch {
	case err == nil:
		allowed = member.IsMaster
	case !errors.Is(err, errs.ErrRecordNotFound):
		return err
	}
	if !allowed {
		sm, err := s.store.GetSpaceMember(ctx, userID, channel.SpaceID)
		switch {
		case err == nil:
			allowed = sm.IsAdmin
		case !errors.Is(err, errs.ErrRecordNotFound):
			return err
		}
	}
	if !allowed {
		return errs.ErrNoPermission.WrapMsg("only the master or a space admin can reset positions",
			"user", userID, "channel", req.ChannelID)
	}
	return s.alloc.ResetChannelPos(ctx, req.ChannelID)
}

func (s *Service) member(ctx context.Context, userID, channelID uuid.UUID) (*chatmodel.ChannelMember, error) {
	m, err := s.store.GetChannelMember(ctx, userID, channelID)
	if errors.Is(err, errs.ErrRecordNotFound) {
		return nil, errs.ErrNoPermission.WrapMsg("not a channel member", "user", userID, "channel", channelID)
	}
	return m, err
}

// 广播失败不影响已经提交的写入
func (s *Service) publish(ctx context.Context, spaceID uuid.UUID, ev Event) {
	if err := s.pub.Publish(ctx, spaceID, ev); err != nil {
		metrics.EventPublishErrors.WithLabelValues(ev.Type).Inc()
		s.log.Warn("publish event failed",
			zap.String("type", ev.Type),
			zap.Stringer("space", spaceID),
			zap.Error(err))
	}
}
