package hotword

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

// Service 热词相关的后端能力
type Service interface {
	CreateHotword(ctx context.Context, user asr.User, word string, weight int) (asr.Hotword, error)
	ListHotwords(ctx context.Context, user asr.User, skip, limit int) []asr.Hotword
	UpdateHotword(ctx context.Context, user asr.User, id string, patch asr.HotwordPatch) (asr.Hotword, error)
	DeleteHotword(ctx context.Context, user asr.User, id string) error
	ImportHotwords(ctx context.Context, user asr.User, filename string, data []byte) (asr.ImportSummary, error)
}

// Handler 热词HTTP处理器
type Handler struct {
	svc Service
}

// New 创建热词处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册热词路由（需登录）
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/hotwords", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Post("/import", h.handleImport)
		r.Put("/{hotwordID}", h.handleUpdate)
		r.Delete("/{hotwordID}", h.handleDelete)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

	var payload struct {
		Word   string `json:"word"`
		Weight *int   `json:"weight"`
	}
	if !utils.DecodeJSON(w, r, &payload) {
		return
	}

	weight := asr.DefaultHotwordWeight
	if payload.Weight != nil {
		weight = *payload.Weight
	}

	hw, err := h.svc.CreateHotword(r.Context(), user, payload.Word, weight)
	if err != nil {
		utils.RespondError(w, backend.HTTPStatus(err), hotwordMessage(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, hw)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())
	skip, limit, ok := utils.PageParams(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.svc.ListHotwords(r.Context(), user, skip, limit))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

	var patch asr.HotwordPatch
	if !utils.DecodeJSON(w, r, &patch) {
		return
	}

	hw, err := h.svc.UpdateHotword(r.Context(), user, chi.URLParam(r, "hotwordID"), patch)
	if err != nil {
		utils.RespondError(w, backend.HTTPStatus(err), hotwordMessage(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, hw)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

	if err := h.svc.DeleteHotword(r.Context(), user, chi.URLParam(r, "hotwordID")); err != nil {
		utils.RespondError(w, backend.HTTPStatus(err), hotwordMessage(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"message": "热词已成功删除"})
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())

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

	summary, err := h.svc.ImportHotwords(r.Context(), user, header.Filename, data)
	if err != nil {
		status := backend.HTTPStatus(err)
		if status == http.StatusBadRequest && !isLimit(err) {
			// 解析失败与原后端一致返回 422
			status = http.StatusUnprocessableEntity
		}
		utils.RespondError(w, status, hotwordMessage(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, summary)
}

func hotwordMessage(err error) string {
	switch {
	case isLimit(err):
		return "热词数量已达上限（100个）"
	case backend.HTTPStatus(err) == http.StatusConflict:
		return "热词已存在"
	case backend.HTTPStatus(err) == http.StatusNotFound:
		return "热词不存在"
	case backend.HTTPStatus(err) == http.StatusForbidden:
		return "无权操作此热词"
	default:
		return err.Error()
	}
}

func isLimit(err error) bool {
	return errors.Is(err, backend.ErrHotwordLimit)
}
