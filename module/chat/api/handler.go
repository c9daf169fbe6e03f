package api

import (
	"context"
	"net/http"
	"strconv"

	mid "PPos/middleware"
	midsec "PPos/middleware/security"
	"PPos/module/chat/message"
	chatmodel "PPos/module/chat/model"
	"PPos/service/metrics"
	"PPos/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessageService message.Service 的 HTTP 可见部分
type MessageService interface {
	Send(ctx context.Context, userID uuid.UUID, req message.SendRequest) (*chatmodel.Message, error)
	Preview(ctx context.Context, userID uuid.UUID, req message.PreviewRequest) (*chatmodel.Preview, error)
	CancelPreview(ctx context.Context, userID uuid.UUID, req message.CancelPreviewRequest) error
	MoveBetween(ctx context.Context, userID uuid.UUID, req message.MoveRequest) (*chatmodel.Message, error)
	ResetChannelPos(ctx context.Context, userID uuid.UUID, req message.ResetPosRequest) error
	Edit(ctx context.Context, userID uuid.UUID, req message.EditRequest) (*chatmodel.Message, error)
	ToggleFold(ctx context.Context, userID, messageID uuid.UUID) (*chatmodel.Message, error)
	Delete(ctx context.Context, userID, messageID uuid.UUID) (*chatmodel.Message, error)
	Query(ctx context.Context, viewer, messageID uuid.UUID) (*chatmodel.Message, error)
	ByChannel(ctx context.Context, viewer uuid.UUID, req message.ByChannelRequest) ([]*chatmodel.Message, error)
}

// Response 统一返回体，code 为 0 表示成功
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

type Handler struct {
	svc MessageService
	log *zap.Logger
}

func NewHandler(svc MessageService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, log: log}
}

// NewRouter 挂载全部路由；/healthz 与 /metrics 不需要鉴权。
// optAuth 用于允许匿名读公开频道的 GET 接口，为 nil 时这些接口一律按匿名处理。
func NewRouter(h *Handler, auth, optAuth gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mid.Recovery(h.log), mid.AccessLog(h.log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, Response{Msg: "ok"}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	g := r.Group("/api/message")
	opt := mid.RouteOpt{IsAuth: true, Auth: auth}
	mid.POST(g, "/send", h.Send, opt)
	mid.POST(g, "/preview", h.Preview, opt)
	mid.POST(g, "/preview/cancel", h.CancelPreview, opt)
	mid.POST(g, "/move_between", h.MoveBetween, opt)
	mid.POST(g, "/reset_pos", h.ResetPos, opt)
	mid.POST(g, "/edit", h.Edit, opt)
	mid.POST(g, "/toggle_fold", h.ToggleFold, opt)
	mid.POST(g, "/delete", h.Delete, opt)

	read := mid.RouteOpt{IsAuth: optAuth != nil, Auth: optAuth}
	mid.GET(g, "/query", h.Query, read)
	mid.GET(g, "/by_channel", h.ByChannel, read)
	return r
}

func (h *Handler) Send(c *gin.Context) {
	var req message.SendRequest
	userID, ok := h.bind(c, &req)
	if !ok {
		return
	}
	m, err := h.svc.Send(c.Request.Context(), userID, req)
	h.reply(c, m, err)
}

func (h *Handler) Preview(c *gin.Context) {
	var req message.PreviewRequest
	userID, ok := h.bind(c, &req)
	if !ok {
		return
	}
	p, err := h.svc.Preview(c.Request.Context(), userID, req)
	h.reply(c, p, err)
}

func (h *Handler) CancelPreview(c *gin.Context) {
	var req message.CancelPreviewRequest
	userID, ok := h.bind(c, &req)
	if !ok {
		return
	}
	h.reply(c, nil, h.svc.CancelPreview(c.Request.Context(), userID, req))
}

func (h *Handler) MoveBetween(c *gin.Context) {
	var req message.MoveRequest
	userID, ok := h.bind(c, &req)
	if !ok {
		return
	}
	m, err := h.svc.MoveBetween(c.Request.Context(), userID, req)
	h.reply(c, m, err)
}

func (h *Handler) ResetPos(c *gin.Context) {
	var req message.ResetPosRequest
	userID, ok := h.bind(c, &req)
	if !ok {
		return
	}
	h.reply(c, nil, h.svc.ResetChannelPos(c.Request.Context(), userID, req))
}

func (h *Handler) Edit(c *gin.Context) {
	var req message.EditRequest
	userID, ok := h.bind(c, &req)
	if !ok {
		return
	}
	m, err := h.svc.Edit(c.Request.Context(), userID, req)
	h.reply(c, m, err)
}

// ToggleFold / Delete 的消息 id 走 query 参数 ?id=
func (h *Handler) ToggleFold(c *gin.Context) {
	userID, id, ok := h.idQuery(c)
	if !ok {
		return
	}
	m, err := h.svc.ToggleFold(c.Request.Context(), userID, id)
	h.reply(c, m, err)
}

func (h *Handler) Delete(c *gin.Context) {
	userID, id, ok := h.idQuery(c)
	if !ok {
		return
	}
	m, err := h.svc.Delete(c.Request.Context(), userID, id)
	h.reply(c, m, err)
}

func (h *Handler) Query(c *gin.Context) {
	id, err := uuid.Parse(c.Query("id"))
	if err != nil {
		h.fail(c, errs.ErrArgs.WithDetail("invalid id"))
		return
	}
	viewer, _ := midsec.UserID(c)
	m, err := h.svc.Query(c.Request.Context(), viewer, id)
	h.reply(c, m, err)
}

// ByChannel ?channelId=&before=&limit=
func (h *Handler) ByChannel(c *gin.Context) {
	var req message.ByChannelRequest
	var err error
	if req.ChannelID, err = uuid.Parse(c.Query("channelId")); err != nil {
		h.fail(c, errs.ErrArgs.WithDetail("invalid channelId"))
		return
	}
	if v := c.Query("before"); v != "" {
		before, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.fail(c, errs.ErrArgs.WithDetail("invalid before"))
			return
		}
		req.Before = &before
	}
	if v := c.Query("limit"); v != "" {
		if req.Limit, err = strconv.Atoi(v); err != nil {
			h.fail(c, errs.ErrArgs.WithDetail("invalid limit"))
			return
		}
	}
	viewer, _ := midsec.UserID(c)
	list, err := h.svc.ByChannel(c.Request.Context(), viewer, req)
	h.reply(c, list, err)
}

func (h *Handler) idQuery(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := midsec.UserID(c)
	if !ok {
		h.fail(c, errs.ErrTokenInvalid.WithDetail("no user in context"))
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Query("id"))
	if err != nil {
		h.fail(c, errs.ErrArgs.WithDetail("invalid id"))
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

func (h *Handler) bind(c *gin.Context, req any) (uuid.UUID, bool) {
	userID, ok := midsec.UserID(c)
	if !ok {
		h.fail(c, errs.ErrTokenInvalid.WithDetail("no user in context"))
		return uuid.Nil, false
	}
	if err := c.ShouldBindJSON(req); err != nil {
		h.fail(c, errs.ErrArgs.WithDetail(err.Error()))
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) reply(c *gin.Context, data any, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Msg: "ok", Data: data})
}

func (h *Handler) fail(c *gin.Context, err error) {
	ce := errs.AsCodeError(err)
	status := HTTPStatus(ce.Code)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		// 内部错误不把细节回给客户端
		ce = errs.ErrInternalServer
	}
	c.AbortWithStatusJSON(status, Response{Code: ce.Code, Msg: ce.Msg + detail(ce)})
}

func detail(ce *errs.CodeError) string {
	if ce.Detail == "" {
		return ""
	}
	return ": " + ce.Detail
}

// HTTPStatus 错误码到 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case errs.ArgsError:
		return http.StatusBadRequest
	case errs.NoPermissionError:
		return http.StatusForbidden
	case errs.RecordNotFoundError:
		return http.StatusNotFound
	case errs.TokenInvalidError:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
