package message

import (
	"context"
	"errors"
	"time"

	"PPos/data/database"
	chatmodel "PPos/module/chat/model"
	"PPos/tools/errs"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 文档里 uuid 一律存字符串，方便在 shell 里直接查
type messageDoc struct {
	ID             string    `bson:"_id"`
	ChannelID      string    `bson:"channel_id"`
	SenderID       string    `bson:"sender_id"`
	Name           string    `bson:"name"`
	Text           string    `bson:"text"`
	InGame         bool      `bson:"in_game"`
	IsAction       bool      `bson:"is_action"`
	IsMaster       bool      `bson:"is_master"`
	WhisperToUsers []string  `bson:"whisper_to_users"`
	MediaID        *string   `bson:"media_id"`
	Color          string    `bson:"color"`
	Folded         bool      `bson:"folded"`
	Pos            float64   `bson:"pos"`
	Created        time.Time `bson:"created"`
	Modified       time.Time `bson:"modified"`
}

type channelDoc struct {
	ID         string `bson:"_id"`
	SpaceID    string `bson:"space_id"`
	Name       string `bson:"name"`
	IsDocument bool   `bson:"is_document"`
	IsPublic   bool   `bson:"is_public"`
}

type channelMemberDoc struct {
	UserID        string `bson:"user_id"`
	ChannelID     string `bson:"channel_id"`
	CharacterName string `bson:"character_name"`
	IsMaster      bool   `bson:"is_master"`
}

type spaceMemberDoc struct {
	UserID  string `bson:"user_id"`
	SpaceID string `bson:"space_id"`
	IsAdmin bool   `bson:"is_admin"`
}

// MongoStore 的移动是“查邻居 + FindOneAndUpdate”两步，没有事务包裹；
// 同一频道并发移动可能算出相同的中点。
type MongoStore struct {
	messages       *mongo.Collection
	channels       *mongo.Collection
	channelMembers *mongo.Collection
	spaceMembers   *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		messages:       database.Collection(db, &chatmodel.Message{}),
		channels:       database.Collection(db, &chatmodel.Channel{}),
		channelMembers: database.Collection(db, &chatmodel.ChannelMember{}),
		spaceMembers:   database.Collection(db, &chatmodel.SpaceMember{}),
	}
}

// EnsureIndexes 频道内按 pos 查邻居、成员按 (user, scope) 唯一
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: chatmodel.MsgFieldChannelID, Value: 1}, {Key: chatmodel.MsgFieldPos, Value: 1}},
	}); err != nil {
		return errs.WrapMsg(err, "create index", "collection", s.messages.Name())
	}
	if _, err := s.channelMembers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "channel_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errs.WrapMsg(err, "create index", "collection", s.channelMembers.Name())
	}
	if _, err := s.spaceMembers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "space_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errs.WrapMsg(err, "create index", "collection", s.spaceMembers.Name())
	}
	return nil
}

func (s *MongoStore) PosAggregate(ctx context.Context, channelID uuid.UUID) (float64, int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{chatmodel.MsgFieldChannelID: channelID.String()}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"sum":   bson.M{"$sum": "$" + chatmodel.MsgFieldPos},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cur, err := s.messages.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, errs.WrapMsg(err, "pos aggregate", "channel", channelID)
	}
	defer cur.Close(ctx)

	var out struct {
		Sum   float64 `bson:"sum"`
		Count int64   `bson:"count"`
	}
	if !cur.Next(ctx) {
		// 空频道没有分组结果
		return 0, 0, errs.WrapMsg(cur.Err(), "pos aggregate", "channel", channelID)
	}
	if err := cur.Decode(&out); err != nil {
		return 0, 0, errs.WrapMsg(err, "decode pos aggregate", "channel", channelID)
	}
	return out.Sum, out.Count, nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id uuid.UUID) (*chatmodel.Message, error) {
	var doc messageDoc
	if err := s.messages.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		return nil, mongoErr(err, "message", "id", id)
	}
	return doc.model()
}

func (s *MongoStore) GetChannel(ctx context.Context, id uuid.UUID) (*chatmodel.Channel, error) {
	var doc channelDoc
	if err := s.channels.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		return nil, mongoErr(err, "channel", "id", id)
	}
	c := &chatmodel.Channel{Name: doc.Name, IsDocument: doc.IsDocument, IsPublic: doc.IsPublic}
	var err error
	if c.ID, err = uuid.Parse(doc.ID); err != nil {
		return nil, errs.WrapMsg(err, "decode channel id", "id", doc.ID)
	}
	if c.SpaceID, err = uuid.Parse(doc.SpaceID); err != nil {
		return nil, errs.WrapMsg(err, "decode space id", "id", doc.SpaceID)
	}
	return c, nil
}

func (s *MongoStore) GetChannelMember(ctx context.Context, userID, channelID uuid.UUID) (*chatmodel.ChannelMember, error) {
	var doc channelMemberDoc
	err := s.channelMembers.FindOne(ctx, bson.M{"user_id": userID.String(), "channel_id": channelID.String()}).Decode(&doc)
	if err != nil {
		return nil, mongoErr(err, "channel member", "user", userID, "channel", channelID)
	}
	return &chatmodel.ChannelMember{
		UserID:        userID,
		ChannelID:     channelID,
		CharacterName: doc.CharacterName,
		IsMaster:      doc.IsMaster,
	}, nil
}

func (s *MongoStore) GetSpaceMember(ctx context.Context, userID, spaceID uuid.UUID) (*chatmodel.SpaceMember, error) {
	var doc spaceMemberDoc
	err := s.spaceMembers.FindOne(ctx, bson.M{"user_id": userID.String(), "space_id": spaceID.String()}).Decode(&doc)
	if err != nil {
		return nil, mongoErr(err, "space member", "user", userID, "space", spaceID)
	}
	return &chatmodel.SpaceMember{UserID: userID, SpaceID: spaceID, IsAdmin: doc.IsAdmin}, nil
}

func (s *MongoStore) CreateMessage(ctx context.Context, m *chatmodel.Message) error {
	if _, err := s.messages.InsertOne(ctx, newMessageDoc(m)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrArgs.WrapMsg("message already exists", "id", m.ID)
		}
		return errs.WrapMsg(err, "insert message", "id", m.ID)
	}
	return nil
}

func (s *MongoStore) MoveBottom(ctx context.Context, channelID, messageID uuid.UUID, a float64) (*chatmodel.Message, error) {
	next, hasNext, err := s.neighbour(ctx, channelID, messageID, "$gt", a, 1)
	if err != nil {
		return nil, err
	}
	return s.place(ctx, channelID, messageID, posAfter(a, next, hasNext))
}

func (s *MongoStore) MoveAbove(ctx context.Context, channelID, messageID uuid.UUID, b float64) (*chatmodel.Message, error) {
	prev, hasPrev, err := s.neighbour(ctx, channelID, messageID, "$lt", b, -1)
	if err != nil {
		return nil, err
	}
	return s.place(ctx, channelID, messageID, posBefore(b, prev, hasPrev))
}

// neighbour 锚点一侧最近的一条（不含被移动的消息本身）
func (s *MongoStore) neighbour(ctx context.Context, channelID, messageID uuid.UUID, op string, anchor float64, order int) (float64, bool, error) {
	filter := bson.M{
		chatmodel.MsgFieldChannelID: channelID.String(),
		chatmodel.MsgFieldPos:       bson.M{op: anchor},
		"_id":                       bson.M{"$ne": messageID.String()},
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: chatmodel.MsgFieldPos, Value: order}}).
		SetProjection(bson.M{chatmodel.MsgFieldPos: 1})

	var out struct {
		Pos float64 `bson:"pos"`
	}
	err := s.messages.FindOne(ctx, filter, opts).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.WrapMsg(err, "find neighbour", "channel", channelID, "anchor", anchor)
	}
	return out.Pos, true, nil
}

func (s *MongoStore) place(ctx context.Context, channelID, messageID uuid.UUID, p float64) (*chatmodel.Message, error) {
	return s.update(ctx, messageID, bson.M{
		chatmodel.MsgFieldChannelID: channelID.String(),
		chatmodel.MsgFieldPos:       p,
		chatmodel.MsgFieldModified:  time.Now().UTC(),
	})
}

// update $set 后返回新文档
func (s *MongoStore) update(ctx context.Context, messageID uuid.UUID, set bson.M) (*chatmodel.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc messageDoc
	err := s.messages.FindOneAndUpdate(ctx, bson.M{"_id": messageID.String()}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		return nil, mongoErr(err, "message", "id", messageID)
	}
	return doc.model()
}

func (s *MongoStore) ListByChannel(ctx context.Context, channelID uuid.UUID, before *float64, limit int) ([]*chatmodel.Message, error) {
	filter := bson.M{chatmodel.MsgFieldChannelID: channelID.String()}
	if before != nil {
		filter[chatmodel.MsgFieldPos] = bson.M{"$lt": *before}
	}
	opts := options.Find().SetSort(bson.D{{Key: chatmodel.MsgFieldPos, Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "list messages", "channel", channelID)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.WrapMsg(err, "decode messages", "channel", channelID)
	}

	out := make([]*chatmodel.Message, len(docs))
	for i := range docs {
		m, err := docs[i].model()
		if err != nil {
			return nil, err
		}
		// 倒序取出，翻回升序
		out[len(docs)-1-i] = m
	}
	return out, nil
}

func (s *MongoStore) EditMessage(ctx context.Context, m *chatmodel.Message) (*chatmodel.Message, error) {
	set := bson.M{
		chatmodel.MsgFieldName:     m.Name,
		chatmodel.MsgFieldText:     m.Text,
		chatmodel.MsgFieldInGame:   m.InGame,
		chatmodel.MsgFieldIsAction: m.IsAction,
		chatmodel.MsgFieldMediaID:  nil,
		chatmodel.MsgFieldColor:    m.Color,
		chatmodel.MsgFieldModified: time.Now().UTC(),
	}
	if m.MediaID != nil {
		set[chatmodel.MsgFieldMediaID] = m.MediaID.String()
	}
	return s.update(ctx, m.ID, set)
}

func (s *MongoStore) SetFolded(ctx context.Context, id uuid.UUID, folded bool) (*chatmodel.Message, error) {
	return s.update(ctx, id, bson.M{
		chatmodel.MsgFieldFolded:   folded,
		chatmodel.MsgFieldModified: time.Now().UTC(),
	})
}

func (s *MongoStore) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return errs.WrapMsg(err, "delete message", "id", id)
	}
	if res.DeletedCount == 0 {
		return errs.ErrRecordNotFound.WrapMsg("message", "id", id)
	}
	return nil
}

func (s *MongoStore) PutChannel(ctx context.Context, c *chatmodel.Channel) error {
	doc := channelDoc{
		ID:         c.ID.String(),
		SpaceID:    c.SpaceID.String(),
		Name:       c.Name,
		IsDocument: c.IsDocument,
		IsPublic:   c.IsPublic,
	}
	_, err := s.channels.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	return errs.WrapMsg(err, "put channel", "id", c.ID)
}

func (s *MongoStore) PutChannelMember(ctx context.Context, m *chatmodel.ChannelMember) error {
	doc := channelMemberDoc{
		UserID:        m.UserID.String(),
		ChannelID:     m.ChannelID.String(),
		CharacterName: m.CharacterName,
		IsMaster:      m.IsMaster,
	}
	_, err := s.channelMembers.ReplaceOne(ctx,
		bson.M{"user_id": doc.UserID, "channel_id": doc.ChannelID}, doc, options.Replace().SetUpsert(true))
	return errs.WrapMsg(err, "put channel member", "user", m.UserID, "channel", m.ChannelID)
}

func (s *MongoStore) PutSpaceMember(ctx context.Context, m *chatmodel.SpaceMember) error {
	doc := spaceMemberDoc{UserID: m.UserID.String(), SpaceID: m.SpaceID.String(), IsAdmin: m.IsAdmin}
	_, err := s.spaceMembers.ReplaceOne(ctx,
		bson.M{"user_id": doc.UserID, "space_id": doc.SpaceID}, doc, options.Replace().SetUpsert(true))
	return errs.WrapMsg(err, "put space member", "user", m.UserID, "space", m.SpaceID)
}

func newMessageDoc(m *chatmodel.Message) messageDoc {
	doc := messageDoc{
		ID:        m.ID.String(),
		ChannelID: m.ChannelID.String(),
		SenderID:  m.SenderID.String(),
		Name:      m.Name,
		Text:      m.Text,
		InGame:    m.InGame,
		IsAction:  m.IsAction,
		IsMaster:  m.IsMaster,
		Color:     m.Color,
		Folded:    m.Folded,
		Pos:       m.Pos,
		Created:   m.Created,
		Modified:  m.Modified,
	}
	if m.WhisperToUsers != nil {
		doc.WhisperToUsers = make([]string, 0, len(m.WhisperToUsers))
		for _, u := range m.WhisperToUsers {
			doc.WhisperToUsers = append(doc.WhisperToUsers, u.String())
		}
	}
	if m.MediaID != nil {
		media := m.MediaID.String()
		doc.MediaID = &media
	}
	return doc
}

func (d *messageDoc) model() (*chatmodel.Message, error) {
	m := &chatmodel.Message{
		Name:     d.Name,
		Text:     d.Text,
		InGame:   d.InGame,
		IsAction: d.IsAction,
		IsMaster: d.IsMaster,
		Color:    d.Color,
		Folded:   d.Folded,
		Pos:      d.Pos,
		Created:  d.Created,
		Modified: d.Modified,
	}
	ids := []struct {
		dst *uuid.UUID
		src string
	}{
		{&m.ID, d.ID},
		{&m.ChannelID, d.ChannelID},
		{&m.SenderID, d.SenderID},
	}
	for _, id := range ids {
		v, err := uuid.Parse(id.src)
		if err != nil {
			return nil, errs.WrapMsg(err, "decode message", "id", d.ID)
		}
		*id.dst = v
	}
	if d.WhisperToUsers != nil {
		m.WhisperToUsers = make([]uuid.UUID, 0, len(d.WhisperToUsers))
		for _, u := range d.WhisperToUsers {
			v, err := uuid.Parse(u)
			if err != nil {
				return nil, errs.WrapMsg(err, "decode whisper target", "id", d.ID)
			}
			m.WhisperToUsers = append(m.WhisperToUsers, v)
		}
	}
	if d.MediaID != nil {
		v, err := uuid.Parse(*d.MediaID)
		if err != nil {
			return nil, errs.WrapMsg(err, "decode media id", "id", d.ID)
		}
		m.MediaID = &v
	}
	return m, nil
}

func mongoErr(err error, what string, kv ...any) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errs.ErrRecordNotFound.WrapMsg(what, kv...)
	}
	return errs.WrapMsg(err, "query "+what, kv...)
}
