package message

import (
	"context"
	"errors"

	chatmodel "PPos/module/chat/model"
	"PPos/tools/errs"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS channels (
	id          uuid PRIMARY KEY,
	space_id    uuid NOT NULL,
	name        text NOT NULL DEFAULT '',
	is_document boolean NOT NULL DEFAULT false,
	is_public   boolean NOT NULL DEFAULT false
);
CREATE TABLE IF NOT EXISTS channel_members (
	user_id        uuid NOT NULL,
	channel_id     uuid NOT NULL,
	character_name text NOT NULL DEFAULT '',
	is_master      boolean NOT NULL DEFAULT false,
	PRIMARY KEY (user_id, channel_id)
);
CREATE TABLE IF NOT EXISTS space_members (
	user_id  uuid NOT NULL,
	space_id uuid NOT NULL,
	is_admin boolean NOT NULL DEFAULT false,
	PRIMARY KEY (user_id, space_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id               uuid PRIMARY KEY,
	channel_id       uuid NOT NULL,
	sender_id        uuid NOT NULL,
	name             text NOT NULL DEFAULT '',
	text             text NOT NULL DEFAULT '',
	in_game          boolean NOT NULL DEFAULT false,
	is_action        boolean NOT NULL DEFAULT false,
	is_master        boolean NOT NULL DEFAULT false,
	whisper_to_users uuid[],
	media_id         uuid,
	color            text NOT NULL DEFAULT '',
	folded           boolean NOT NULL DEFAULT false,
	pos              double precision NOT NULL,
	created          timestamptz NOT NULL DEFAULT now(),
	modified         timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_channel_pos ON messages (channel_id, pos);
`

const pgMessageColumns = `id, channel_id, sender_id, name, text, in_game, is_action, is_master,
	whisper_to_users, media_id, color, folded, pos, created, modified`

// uniqueViolation SQLSTATE
const pgUniqueViolation = "23505"

// PgStore Postgres 实现。移动的插值在一条 UPDATE 里完成，邻居查询与写入不会被其他写入插入。
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// OpenPgStore 建连池并 Ping；migrate 为 true 时建表
func OpenPgStore(ctx context.Context, url string, maxConns int32, migrate bool) (*PgStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "unable to connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "ping database")
	}
	s := NewPgStore(pool)
	if migrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return errs.WrapMsg(err, "migrate")
	}
	return nil
}

func (s *PgStore) Close() {
	s.pool.Close()
}

func (s *PgStore) PosAggregate(ctx context.Context, channelID uuid.UUID) (float64, int64, error) {
	var (
		sum   float64
		count int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pos), 0)::float8, COUNT(*) FROM messages WHERE channel_id = $1`,
		channelID).Scan(&sum, &count)
	if err != nil {
		return 0, 0, errs.WrapMsg(err, "pos aggregate", "channel", channelID)
	}
	return sum, count, nil
}

func (s *PgStore) GetMessage(ctx context.Context, id uuid.UUID) (*chatmodel.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgMessageColumns+` FROM messages WHERE id = $1`, id)
	return scanMessage(row, "id", id)
}

func (s *PgStore) GetChannel(ctx context.Context, id uuid.UUID) (*chatmodel.Channel, error) {
	c := &chatmodel.Channel{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, space_id, name, is_document, is_public FROM channels WHERE id = $1`, id).
		Scan(&c.ID, &c.SpaceID, &c.Name, &c.IsDocument, &c.IsPublic)
	if err != nil {
		return nil, pgErr(err, "channel", "id", id)
	}
	return c, nil
}

func (s *PgStore) GetChannelMember(ctx context.Context, userID, channelID uuid.UUID) (*chatmodel.ChannelMember, error) {
	m := &chatmodel.ChannelMember{}
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, channel_id, character_name, is_master FROM channel_members
		 WHERE user_id = $1 AND channel_id = $2`, userID, channelID).
		Scan(&m.UserID, &m.ChannelID, &m.CharacterName, &m.IsMaster)
	if err != nil {
		return nil, pgErr(err, "channel member", "user", userID, "channel", channelID)
	}
	return m, nil
}

func (s *PgStore) GetSpaceMember(ctx context.Context, userID, spaceID uuid.UUID) (*chatmodel.SpaceMember, error) {
	m := &chatmodel.SpaceMember{}
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, space_id, is_admin FROM space_members WHERE user_id = $1 AND space_id = $2`,
		userID, spaceID).
		Scan(&m.UserID, &m.SpaceID, &m.IsAdmin)
	if err != nil {
		return nil, pgErr(err, "space member", "user", userID, "space", spaceID)
	}
	return m, nil
}

func (s *PgStore) CreateMessage(ctx context.Context, m *chatmodel.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (`+pgMessageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.ChannelID, m.SenderID, m.Name, m.Text, m.InGame, m.IsAction, m.IsMaster,
		m.WhisperToUsers, m.MediaID, m.Color, m.Folded, m.Pos, m.Created, m.Modified)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return errs.ErrArgs.WrapMsg("message already exists", "id", m.ID)
		}
		return errs.WrapMsg(err, "insert message", "id", m.ID)
	}
	return nil
}

func (s *PgStore) MoveBottom(ctx context.Context, channelID, messageID uuid.UUID, a float64) (*chatmodel.Message, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE messages SET channel_id = $1, modified = now(), pos = COALESCE(
			($3::float8 + (SELECT MIN(pos) FROM messages WHERE channel_id = $1 AND pos > $3::float8 AND id <> $2)) / 2,
			$3::float8 + 1)
		 WHERE id = $2
		 RETURNING `+pgMessageColumns,
		channelID, messageID, a)
	return scanMessage(row, "id", messageID)
}

func (s *PgStore) MoveAbove(ctx context.Context, channelID, messageID uuid.UUID, b float64) (*chatmodel.Message, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE messages SET channel_id = $1, modified = now(), pos = COALESCE(
			((SELECT MAX(pos) FROM messages WHERE channel_id = $1 AND pos < $3::float8 AND id <> $2) + $3::float8) / 2,
			$3::float8 - 1)
		 WHERE id = $2
		 RETURNING `+pgMessageColumns,
		channelID, messageID, b)
	return scanMessage(row, "id", messageID)
}

func (s *PgStore) ListByChannel(ctx context.Context, channelID uuid.UUID, before *float64, limit int) ([]*chatmodel.Message, error) {
	// 先倒序取最后 limit 条再翻回升序
	rows, err := s.pool.Query(ctx,
		`SELECT * FROM (
			SELECT `+pgMessageColumns+` FROM messages
			WHERE channel_id = $1 AND ($2::float8 IS NULL OR pos < $2::float8)
			ORDER BY pos DESC
			LIMIT $3
		 ) AS page ORDER BY pos ASC`,
		channelID, before, limit)
	if err != nil {
		return nil, errs.WrapMsg(err, "list messages", "channel", channelID)
	}
	defer rows.Close()

	out := make([]*chatmodel.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows, "channel", channelID)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.WrapMsg(err, "list messages", "channel", channelID)
	}
	return out, nil
}

func (s *PgStore) EditMessage(ctx context.Context, m *chatmodel.Message) (*chatmodel.Message, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE messages SET name = $2, text = $3, in_game = $4, is_action = $5, media_id = $6, color = $7,
			modified = now()
		 WHERE id = $1
		 RETURNING `+pgMessageColumns,
		m.ID, m.Name, m.Text, m.InGame, m.IsAction, m.MediaID, m.Color)
	return scanMessage(row, "id", m.ID)
}

func (s *PgStore) SetFolded(ctx context.Context, id uuid.UUID, folded bool) (*chatmodel.Message, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE messages SET folded = $2, modified = now() WHERE id = $1 RETURNING `+pgMessageColumns,
		id, folded)
	return scanMessage(row, "id", id)
}

func (s *PgStore) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		return errs.WrapMsg(err, "delete message", "id", id)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrRecordNotFound.WrapMsg("message", "id", id)
	}
	return nil
}

// PutChannel / PutChannelMember / PutSpaceMember 供初始化数据和测试使用，存在则覆盖
func (s *PgStore) PutChannel(ctx context.Context, c *chatmodel.Channel) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO channels (id, space_id, name, is_document, is_public) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET space_id = $2, name = $3, is_document = $4, is_public = $5`,
		c.ID, c.SpaceID, c.Name, c.IsDocument, c.IsPublic)
	return errs.WrapMsg(err, "put channel", "id", c.ID)
}

func (s *PgStore) PutChannelMember(ctx context.Context, m *chatmodel.ChannelMember) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO channel_members (user_id, channel_id, character_name, is_master) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, channel_id) DO UPDATE SET character_name = $3, is_master = $4`,
		m.UserID, m.ChannelID, m.CharacterName, m.IsMaster)
	return errs.WrapMsg(err, "put channel member", "user", m.UserID, "channel", m.ChannelID)
}

func (s *PgStore) PutSpaceMember(ctx context.Context, m *chatmodel.SpaceMember) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO space_members (user_id, space_id, is_admin) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, space_id) DO UPDATE SET is_admin = $3`,
		m.UserID, m.SpaceID, m.IsAdmin)
	return errs.WrapMsg(err, "put space member", "user", m.UserID, "space", m.SpaceID)
}

func scanMessage(row pgx.Row, kv ...any) (*chatmodel.Message, error) {
	m := &chatmodel.Message{}
	err := row.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Name, &m.Text, &m.InGame, &m.IsAction, &m.IsMaster,
		&m.WhisperToUsers, &m.MediaID, &m.Color, &m.Folded, &m.Pos, &m.Created, &m.Modified)
	if err != nil {
		return nil, pgErr(err, "message", kv...)
	}
	return m, nil
}

func pgErr(err error, what string, kv ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrRecordNotFound.WrapMsg(what, kv...)
	}
	return errs.WrapMsg(err, "query "+what, kv...)
}
