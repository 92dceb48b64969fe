package task

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/asr-client/internal/middleware"
	"github.com/zhouzirui/asr-client/internal/model/asr"
	"github.com/zhouzirui/asr-client/internal/service/backend"
	"github.com/zhouzirui/asr-client/pkg/utils"
)

// DefaultMaxUpload 默认上传大小上限
const DefaultMaxUpload = 100 << 20

// Service 转写任务相关的后端能力
type Service interface {
	SubmitTask(ctx context.Context, user asr.User, filename string, data []byte, hotwordListID string) (asr.Task, error)
	GetTask(ctx context.Context, user asr.User, id string) (asr.Task, error)
	ListTasks(ctx context.Context, user asr.User, skip, limit int) []asr.Task
}

// Handler 文件转写任务HTTP处理器
type Handler struct {
	svc            Service
	maxUpload      int64
	disableListing bool
}

// Option 处理器选项
type Option func(*Handler)

// WithMaxUpload 设置上传大小上限，超出返回 413
func WithMaxUpload(n int64) Option {
	return func(h *Handler) { h.maxUpload = n }
}

// WithListingDisabled 让任务列表接口返回 501，模拟旧版后端
func WithListingDisabled(disabled bool) Option {
	return func(h *Handler) { h.disableListing = disabled }
}

// New 创建任务处理器
func New(svc Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, maxUpload: DefaultMaxUpload}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes 注册任务路由（需登录）
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/asr/transcribe/file", h.handleSubmit)
	r.Get("/asr/tasks", h.handleList)
	r.Get("/asr/tasks/{taskID}", h.handleGet)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "文件过大")
			return
		}
		utils.RespondError(w, http.StatusUnprocessableEntity, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	// 原后端把 hotword_list_id 当作查询参数，这里两种都接受
	hotwordListID := r.FormValue("hotword_list_id")

	task, err := h.svc.SubmitTask(r.Context(), user, header.Filename, data, hotwordListID)
	if err != nil {
		utils.RespondError(w, backend.HTTPStatus(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, task)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

	task, err := h.svc.GetTask(r.Context(), user, chi.URLParam(r, "taskID"))
	if err != nil {
		status := backend.HTTPStatus(err)
		msg := "任务不存在"
		if status == http.StatusForbidden {
			msg = "无权访问此任务"
		}
		utils.RespondError(w, status, msg)
		return
	}
	utils.RespondJSON(w, http.StatusOK, task)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if h.disableListing {
		utils.RespondError(w, http.StatusNotImplemented, "task listing is not implemented")
		return
	}

	user, _ := middleware.UserFrom(r.Context())
	skip, limit, ok := utils.PageParams(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.svc.ListTasks(r.Context(), user, skip, limit))
}
