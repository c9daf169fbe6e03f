package pos

import (
	"context"
	"math"

	"PPos/service/metrics"
	"PPos/service/storage/redis"
	"PPos/tools/errs"
	"PPos/tools/safe"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Aggregator 冷启动时读持久层：频道内已有消息 pos 的 (sum, count)，不经过缓存
type Aggregator interface {
	PosAggregate(ctx context.Context, channelID uuid.UUID) (sum float64, count int64, err error)
}

func MaxPosKey(channelID uuid.UUID) string {
	return redis.MakeKey("channel", channelID, "max_pos")
}

func PreviewKey(channelID, draftID uuid.UUID) string {
	return redis.MakeKey("channel", channelID, "preview:"+draftID.String()+":pos")
}

// Seed 冷启动水位：ceil(sum/count)+1，空频道为 1。
// 均值不是上界，绕过缓存写入的 pos 可能高于它。
func Seed(sum float64, count int64) int64 {
	if count <= 0 {
		return 1
	}
	return int64(math.Ceil(sum/float64(count))) + 1
}

// Allocator 频道级单调发号 + 草稿预览位置。
// 原子性全部来自 Redis 的 SETNX / INCR，本身不持锁。
type Allocator struct {
	cache *redis.Conn
	agg   Aggregator
	log   *zap.Logger
}

func NewAllocator(cache *redis.Conn, agg Aggregator, log *zap.Logger) *Allocator {
	safe.MustNotNil(cache, "cache")
	safe.MustNotNil(agg, "aggregator")
	if log == nil {
		log = zap.NewNop()
	}
	return &Allocator{cache: cache, agg: agg, log: log}
}

// EnsurePosLargest 把水位抬到至少 pos。读-比较-写不是 CAS：
// 与并发的 AllocNewPos 交错时可能覆盖掉一次 INCR 的结果，
// 只有在所有写入都单调上升且来自同一事实来源时才是安全的。
func (a *Allocator) EnsurePosLargest(ctx context.Context, channelID uuid.UUID, pos int64) error {
	key := MaxPosKey(channelID)
	current, ok, err := a.cache.GetInt(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		current = 1
	}
	if pos <= current {
		return nil
	}
	a.log.Debug("raise watermark",
		zap.Stringer("channel", channelID),
		zap.Int64("from", current),
		zap.Int64("to", pos))
	return a.cache.Set(ctx, key, pos)
}

// AllocNewPos 返回频道内唯一且严格递增的新位置。
// 水位缺失时用聚合值 SETNX 播种，并发冷启动只有第一个生效，之后都走 INCR。
func (a *Allocator) AllocNewPos(ctx context.Context, channelID uuid.UUID) (int64, error) {
	p, err := a.allocNewPos(ctx, channelID)
	if err != nil {
		return 0, err
	}
	metrics.PositionsAllocated.WithLabelValues("direct").Inc()
	return p, nil
}

func (a *Allocator) allocNewPos(ctx context.Context, channelID uuid.UUID) (int64, error) {
	if err := a.ensureSeeded(ctx, channelID); err != nil {
		return 0, err
	}
	return a.cache.Incr(ctx, MaxPosKey(channelID))
}

// ensureSeeded 水位缺失时用聚合值 SETNX 播种
func (a *Allocator) ensureSeeded(ctx context.Context, channelID uuid.UUID) error {
	key := MaxPosKey(channelID)
	_, inCache, err := a.cache.GetInt(ctx, key)
	if err != nil || inCache {
		return err
	}

	sum, count, err := a.agg.PosAggregate(ctx, channelID)
	if err != nil {
		return errs.WrapMsg(err, "pos aggregate", "channel", channelID)
	}
	seed := Seed(sum, count)
	set, err := a.cache.SetNX(ctx, key, seed)
	if err != nil {
		return err
	}
	if set {
		metrics.ColdStarts.Inc()
		a.log.Info("seeded channel watermark",
			zap.Stringer("channel", channelID),
			zap.Float64("sum", sum),
			zap.Int64("count", count),
			zap.Int64("seed", seed))
	}
	return nil
}

// RaiseWatermark 写入了显式 pos 之后调用：先按持久层播种，再抬到至少 pos。
// 冷缓存上直接 EnsurePosLargest 会把水位定成 pos 本身，低于已有的消息。
func (a *Allocator) RaiseWatermark(ctx context.Context, channelID uuid.UUID, pos int64) error {
	if err := a.ensureSeeded(ctx, channelID); err != nil {
		return err
	}
	return a.EnsurePosLargest(ctx, channelID, pos)
}

// Pos 草稿的预览位置：已有则原样返回（客户端重试不会多占号），
// 否则新分配一个并保留 keepSeconds 秒。过期未用的号不会回收。
// 同一草稿并发首次调用时 SET NX EX 只有一个生效，其余重读它的值。
func (a *Allocator) Pos(ctx context.Context, channelID, draftID uuid.UUID, keepSeconds int64) (int64, error) {
	if keepSeconds <= 0 {
		return 0, errs.ErrArgs.WrapMsg("keep seconds must be positive", "keep", keepSeconds)
	}
	key := PreviewKey(channelID, draftID)
	p, ok, err := a.cache.GetInt(ctx, key)
	if err != nil {
		return 0, err
	}
	if ok {
		metrics.PreviewHits.Inc()
		return p, nil
	}

	p, err = a.allocNewPos(ctx, channelID)
	if err != nil {
		return 0, err
	}
	metrics.PositionsAllocated.WithLabelValues("preview").Inc()
	set, err := a.cache.SetNXWithExpiration(ctx, key, p, keepSeconds)
	if err != nil {
		return 0, err
	}
	if set {
		return p, nil
	}

	winner, ok, err := a.cache.GetInt(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		// 赢家的 key 在两次读之间过期或被 Finished 删掉
		return 0, errs.ErrInternalServer.WrapMsg("preview pos vanished", "channel", channelID, "draft", draftID)
	}
	metrics.PreviewHits.Inc()
	return winner, nil
}

// ResetChannelPos 删除水位，下次分配从持久层重新播种（批量导入、合并之后由外部调用）
func (a *Allocator) ResetChannelPos(ctx context.Context, channelID uuid.UUID) error {
	a.log.Info("reset channel watermark", zap.Stringer("channel", channelID))
	return a.cache.Remove(ctx, MaxPosKey(channelID))
}

// Finished 草稿提交或放弃后删除预览位置，可重复调用
func (a *Allocator) Finished(ctx context.Context, channelID, draftID uuid.UUID) error {
	return a.cache.Remove(ctx, PreviewKey(channelID, draftID))
}
