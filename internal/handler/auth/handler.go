package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/asr-client/internal/middleware"
	"github.com/zhouzirui/asr-client/internal/model/asr"
	"github.com/zhouzirui/asr-client/internal/service/backend"
	"github.com/zhouzirui/asr-client/pkg/utils"
)

// Service 认证相关的后端能力
type Service interface {
	Register(ctx context.Context, username, password string) (asr.Token, error)
	Login(ctx context.Context, username, password string) (asr.Token, error)
}

// Handler 认证HTTP处理器
type Handler struct {
	svc Service
}

// New 创建认证处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册公开的认证路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/token", h.handleLogin)
}

// RegisterProtectedRoutes 注册需要登录的路由
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/auth/me", h.handleMe)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	creds, ok := readCredentials(w, r)
	if !ok {
		return
	}

	token, err := h.svc.Register(r.Context(), creds.Username, creds.Password)
	if err != nil {
		utils.RespondError(w, backend.HTTPStatus(err), registerMessage(err))
		return
	}
	utils.RespondJSON(w, http.StatusOK, token)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	creds, ok := readCredentials(w, r)
	if !ok {
		return
	}

	token, err := h.svc.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		utils.RespondError(w, http.StatusUnauthorized, "用户名或密码错误")
		return
	}
	utils.RespondJSON(w, http.StatusOK, token)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	utils.RespondJSON(w, http.StatusOK, user)
}

// readCredentials 同时支持 JSON 和 OAuth2 表单两种提交方式
func readCredentials(w http.ResponseWriter, r *http.Request) (asr.Credentials, bool) {
	var creds asr.Credentials

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			utils.RespondError(w, http.StatusUnprocessableEntity, "invalid form body")
			return creds, false
		}
		creds.Username = r.PostForm.Get("username")
		creds.Password = r.PostForm.Get("password")
	} else if !utils.DecodeJSON(w, r, &creds) {
		return creds, false
	}

	if creds.Username == "" || creds.Password == "" {
		utils.RespondError(w, http.StatusUnprocessableEntity, "username and password are required")
		return creds, false
	}
	return creds, true
}

func registerMessage(err error) string {
	switch backend.HTTPStatus(err) {
	case http.StatusConflict:
		return "用户名已存在"
	case http.StatusBadRequest:
		return "用户名需3-50个字符，密码至少6位"
	default:
		return err.Error()
	}
}
