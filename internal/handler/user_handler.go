package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/query"
	"github.com/hitoshi/taskboard/internal/repository"
	"github.com/hitoshi/taskboard/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Create(ctx context.Context, in user.CreateInput) (*model.User, error)
	Update(ctx context.Context, id string, in user.UpdateInput) (*model.User, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string, sel bson.M) (bson.M, error)
	List(ctx context.Context, opts repository.ListOptions) ([]bson.M, error)
	Count(ctx context.Context, where bson.M) (int64, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// userCreateRequest はユーザー作成リクエストのボディ。
// pendingTasksは作成時には受け付けない（常に空で初期化される）。
type userCreateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// userUpdateRequest はユーザー更新リクエストのボディ。
// PendingTasksがnilの場合はpendingTasksの調停を行わない。
// クライアントが送ってきたdateCreatedは読み取らず、常に破棄される。
type userUpdateRequest struct {
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PendingTasks *[]string `json:"pendingTasks"`
}

// ListUsers はユーザー一覧を取得する。
// GET /api/users?where=...&sort=...&select=...&skip=...&limit=...&count=...
// タスク一覧と異なり、limit未指定時は無制限。
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	p := query.Parse(r.URL.Query(), 0)

	if p.Count && !p.Paginated {
		n, err := h.service.Count(r.Context(), p.List.Where)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeEnvelope(w, http.StatusOK, "OK", n)
		return
	}

	docs, err := h.service.List(r.Context(), p.List)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if p.Count {
		writeEnvelope(w, http.StatusOK, "OK", len(docs))
		return
	}
	writeEnvelope(w, http.StatusOK, "OK", docs)
}

// CreateUser はユーザーを作成する。
// POST /api/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	created, err := h.service.Create(r.Context(), user.CreateInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeEnvelope(w, http.StatusCreated, "User created", created)
}

// GetUser はユーザーを1件取得する。
// GET /api/users/:id?select=...
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sel := query.ParseObject(r.URL.Query().Get("select"))

	doc, err := h.service.Get(r.Context(), id, sel)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeEnvelope(w, http.StatusOK, "OK", doc)
}

// UpdateUser はユーザーを更新する。
// PUT /api/users/:id
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req userUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	updated, err := h.service.Update(r.Context(), id, user.UpdateInput{
		Name:         req.Name,
		Email:        req.Email,
		PendingTasks: req.PendingTasks,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeEnvelope(w, http.StatusOK, "User updated", updated)
}

// DeleteUser はユーザーを削除する。
// DELETE /api/users/:id
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
