package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/query"
	"github.com/hitoshi/taskboard/internal/repository"
	"github.com/hitoshi/taskboard/internal/task"
)

// defaultTaskLimit はタスク一覧のlimit未指定時の取得上限。
const defaultTaskLimit = 100

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	Create(ctx context.Context, in task.CreateInput) (*model.Task, error)
	Update(ctx context.Context, id string, in task.UpdateInput) (*model.Task, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string, sel bson.M) (bson.M, error)
	List(ctx context.Context, opts repository.ListOptions) ([]bson.M, error)
	Count(ctx context.Context, where bson.M) (int64, error)
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{service: service}
}

// taskCreateRequest はタスク作成リクエストのボディ。
type taskCreateRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Deadline         string `json:"deadline"`
	Completed        bool   `json:"completed"`
	AssignedUser     string `json:"assignedUser"`
	AssignedUserName string `json:"assignedUserName"`
}

// taskUpdateRequest はタスク更新リクエストのボディ。
// 全置換のため、nilフィールドは「リクエストに存在しなかった」ことを表す。
// クライアントが送ってきたdateCreated・_idは読み取らず、常に破棄される。
type taskUpdateRequest struct {
	Name             *string `json:"name"`
	Description      *string `json:"description"`
	Deadline         *string `json:"deadline"`
	Completed        *bool   `json:"completed"`
	AssignedUser     *string `json:"assignedUser"`
	AssignedUserName *string `json:"assignedUserName"`
}

// ListTasks はタスク一覧を取得する。
// GET /api/tasks?where=...&sort=...&select=...&skip=...&limit=...&count=...
// count=trueかつページネーションなしは全件数、ありはページ内の件数を返す。
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	p := query.Parse(r.URL.Query(), defaultTaskLimit)

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

// CreateTask はタスクを作成する。
// POST /api/tasks
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	deadline, apiErr := parseDeadline(req.Deadline)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	created, err := h.service.Create(r.Context(), task.CreateInput{
		Name:             req.Name,
		Description:      req.Description,
		Deadline:         deadline,
		Completed:        req.Completed,
		AssignedUser:     req.AssignedUser,
		AssignedUserName: req.AssignedUserName,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeEnvelope(w, http.StatusCreated, "Task created", created)
}

// GetTask はタスクを1件取得する。
// GET /api/tasks/:id?select=...
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sel := query.ParseObject(r.URL.Query().Get("select"))

	doc, err := h.service.Get(r.Context(), id, sel)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeEnvelope(w, http.StatusOK, "OK", doc)
}

// UpdateTask はタスクを全置換更新する。
// PUT /api/tasks/:id
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req taskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidBodyResponse(w)
		return
	}

	in := task.UpdateInput{
		Name:             req.Name,
		Description:      req.Description,
		Completed:        req.Completed,
		AssignedUser:     req.AssignedUser,
		AssignedUserName: req.AssignedUserName,
	}

	if req.Deadline != nil {
		deadline, apiErr := parseDeadline(*req.Deadline)
		if apiErr != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
			return
		}
		in.Deadline = &deadline
	}

	updated, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeEnvelope(w, http.StatusOK, "Task updated", updated)
}

// DeleteTask はタスクを削除する。
// DELETE /api/tasks/:id
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// deadlineFormats はdeadlineとして受け付ける日時形式。先頭から順に試す。
var deadlineFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseDeadline はリクエストのdeadline文字列をtime.Timeに解釈する。
// 空文字列はゼロ値を返し、必須チェックはサービス層に委ねる。
func parseDeadline(s string) (time.Time, *model.APIError) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	for _, layout := range deadlineFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, model.NewInvalidDeadlineError(s)
}
