package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/hitoshi/taskboard/internal/middleware"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/repository"
	"github.com/hitoshi/taskboard/internal/task"
	"github.com/hitoshi/taskboard/internal/user"
)

// --- 統合テスト用のインメモリストア ---

// memoryStore はタスクとユーザーのインメモリ実装。実リポジトリと同じ
// インターフェースを満たし、整合性エンジンとルーターを実構成で通す。
type memoryStore struct {
	tasks map[string]*model.Task
	users map[string]*model.User
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		tasks: make(map[string]*model.Task),
		users: make(map[string]*model.User),
	}
}

func checkID(id string) error {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return repository.ErrMalformedID
	}
	return nil
}

func toRaw(v any) bson.M {
	data, _ := bson.Marshal(v)
	var m bson.M
	_ = bson.Unmarshal(data, &m)
	return m
}

type memoryTaskRepo struct{ store *memoryStore }

func (r *memoryTaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	t, ok := r.store.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}
func (r *memoryTaskRepo) FindRaw(ctx context.Context, id string, sel bson.M) (bson.M, error) {
	t, err := r.FindByID(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	return toRaw(t), nil
}
func (r *memoryTaskRepo) ListRaw(ctx context.Context, opts repository.ListOptions) ([]bson.M, error) {
	out := []bson.M{}
	for _, t := range r.store.tasks {
		out = append(out, toRaw(t))
	}
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}
func (r *memoryTaskRepo) Count(ctx context.Context, where bson.M) (int64, error) {
	return int64(len(r.store.tasks)), nil
}
func (r *memoryTaskRepo) Insert(ctx context.Context, t *model.Task) error {
	t.ID = primitive.NewObjectID()
	t.DateCreated = time.Now()
	cp := *t
	r.store.tasks[t.ID.Hex()] = &cp
	return nil
}
func (r *memoryTaskRepo) UpdateByID(ctx context.Context, id string, fields bson.M) (*model.Task, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	t, ok := r.store.tasks[id]
	if !ok {
		return nil, nil
	}
	if v, ok := fields["name"]; ok {
		t.Name = v.(string)
	}
	if v, ok := fields["description"]; ok {
		t.Description = v.(string)
	}
	if v, ok := fields["deadline"]; ok {
		t.Deadline = v.(time.Time)
	}
	if v, ok := fields["completed"]; ok {
		t.Completed = v.(bool)
	}
	if v, ok := fields["assignedUser"]; ok {
		t.AssignedUser = v.(string)
	}
	if v, ok := fields["assignedUserName"]; ok {
		t.AssignedUserName = v.(string)
	}
	cp := *t
	return &cp, nil
}
func (r *memoryTaskRepo) DeleteByID(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	delete(r.store.tasks, id)
	return nil
}
func (r *memoryTaskRepo) UnassignAllForUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	for _, t := range r.store.tasks {
		if t.AssignedUser == userID {
			t.AssignedUser = ""
			t.AssignedUserName = model.UnassignedSentinel
			n++
		}
	}
	return n, nil
}
func (r *memoryTaskRepo) UpdateAssigneeName(ctx context.Context, userID, name string) (int64, error) {
	var n int64
	for _, t := range r.store.tasks {
		if t.AssignedUser == userID {
			t.AssignedUserName = name
			n++
		}
	}
	return n, nil
}

type memoryUserRepo struct{ store *memoryStore }

func (r *memoryUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	u, ok := r.store.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.PendingTasks = append([]string{}, u.PendingTasks...)
	return &cp, nil
}
func (r *memoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	for _, u := range r.store.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}
func (r *memoryUserRepo) FindRaw(ctx context.Context, id string, sel bson.M) (bson.M, error) {
	u, err := r.FindByID(ctx, id)
	if err != nil || u == nil {
		return nil, err
	}
	return toRaw(u), nil
}
func (r *memoryUserRepo) ListRaw(ctx context.Context, opts repository.ListOptions) ([]bson.M, error) {
	out := []bson.M{}
	for _, u := range r.store.users {
		out = append(out, toRaw(u))
	}
	return out, nil
}
func (r *memoryUserRepo) Count(ctx context.Context, where bson.M) (int64, error) {
	return int64(len(r.store.users)), nil
}
func (r *memoryUserRepo) Insert(ctx context.Context, u *model.User) error {
	if existing, _ := r.FindByEmail(context.Background(), u.Email); existing != nil {
		return repository.ErrDuplicateKey
	}
	u.ID = primitive.NewObjectID()
	u.DateCreated = time.Now()
	cp := *u
	r.store.users[u.ID.Hex()] = &cp
	return nil
}
func (r *memoryUserRepo) UpdateByID(ctx context.Context, id string, fields bson.M) (*model.User, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	u, ok := r.store.users[id]
	if !ok {
		return nil, nil
	}
	if v, ok := fields["name"]; ok {
		u.Name = v.(string)
	}
	if v, ok := fields["email"]; ok {
		u.Email = v.(string)
	}
	if v, ok := fields["pendingTasks"]; ok {
		u.PendingTasks = append([]string{}, v.([]string)...)
	}
	cp := *u
	cp.PendingTasks = append([]string{}, u.PendingTasks...)
	return &cp, nil
}
func (r *memoryUserRepo) DeleteByID(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	delete(r.store.users, id)
	return nil
}
func (r *memoryUserRepo) AddPendingTask(ctx context.Context, userID, taskID string) error {
	u, ok := r.store.users[userID]
	if !ok {
		return nil
	}
	if !u.HasPendingTask(taskID) {
		u.PendingTasks = append(u.PendingTasks, taskID)
	}
	return nil
}
func (r *memoryUserRepo) RemovePendingTask(ctx context.Context, userID, taskID string) error {
	u, ok := r.store.users[userID]
	if !ok {
		return nil
	}
	out := u.PendingTasks[:0]
	for _, id := range u.PendingTasks {
		if id != taskID {
			out = append(out, id)
		}
	}
	u.PendingTasks = out
	return nil
}

// --- 統合テスト用ルーター構築ヘルパー ---

func createIntegrationRouter(store *memoryStore) http.Handler {
	taskRepo := &memoryTaskRepo{store: store}
	userRepo := &memoryUserRepo{store: store}

	deps := &RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
		TaskService:       task.NewService(taskRepo, userRepo, nil),
		UserService:       user.NewService(userRepo, taskRepo, nil),
	}
	return NewRouter(deps)
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	data, ok := env["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %v", env["data"])
	}
	return data
}

// --- 統合テスト ---

// TestIntegration_AssignmentLifecycle は担当者付きタスクの作成から完了までの
// 双方向整合性をHTTP経由で検証する。
func TestIntegration_AssignmentLifecycle(t *testing.T) {
	store := newMemoryStore()
	router := createIntegrationRouter(store)

	// ユーザー作成
	w := doJSON(t, router, http.MethodPost, "/api/users", `{"name": "田中", "email": "tanaka@example.com"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create user: status = %d, body = %s", w.Code, w.Body.String())
	}
	userID := decodeData(t, w)["_id"].(string)

	// 担当者付きタスク作成 → ユーザーのpendingTasksに現れる
	w = doJSON(t, router, http.MethodPost, "/api/tasks",
		`{"name": "買い出し", "deadline": "2026-10-01", "assignedUser": "`+userID+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create task: status = %d, body = %s", w.Code, w.Body.String())
	}
	taskData := decodeData(t, w)
	taskID := taskData["_id"].(string)
	if taskData["assignedUserName"] != "田中" {
		t.Errorf("assignedUserName = %v, want 田中", taskData["assignedUserName"])
	}

	w = doJSON(t, router, http.MethodGet, "/api/users/"+userID, "")
	pending := decodeData(t, w)["pendingTasks"].([]any)
	if len(pending) != 1 || pending[0] != taskID {
		t.Fatalf("pendingTasks = %v, want [%s]", pending, taskID)
	}

	// タスク完了 → pendingTasksから消える
	w = doJSON(t, router, http.MethodPut, "/api/tasks/"+taskID,
		`{"name": "買い出し", "description": "", "deadline": "2026-10-01", "completed": true, "assignedUser": "`+userID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("complete task: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/users/"+userID, "")
	pending = decodeData(t, w)["pendingTasks"].([]any)
	if len(pending) != 0 {
		t.Errorf("pendingTasks after completion = %v, want empty", pending)
	}

	// 完了済みタスクへの再更新は拒否される
	w = doJSON(t, router, http.MethodPut, "/api/tasks/"+taskID,
		`{"name": "買い出し2", "description": "", "deadline": "2026-10-01", "completed": false, "assignedUser": ""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("update completed task: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// TestIntegration_Reassignment は担当者変更で新旧両ユーザーのpendingTasksが
// 調停されることを検証する。
func TestIntegration_Reassignment(t *testing.T) {
	store := newMemoryStore()
	router := createIntegrationRouter(store)

	w := doJSON(t, router, http.MethodPost, "/api/users", `{"name": "田中", "email": "tanaka@example.com"}`)
	user1 := decodeData(t, w)["_id"].(string)
	w = doJSON(t, router, http.MethodPost, "/api/users", `{"name": "佐藤", "email": "sato@example.com"}`)
	user2 := decodeData(t, w)["_id"].(string)

	w = doJSON(t, router, http.MethodPost, "/api/tasks",
		`{"name": "レビュー", "deadline": "2026-10-01", "assignedUser": "`+user1+`"}`)
	taskID := decodeData(t, w)["_id"].(string)

	// user1 → user2 へ付け替え
	w = doJSON(t, router, http.MethodPut, "/api/tasks/"+taskID,
		`{"name": "レビュー", "description": "", "deadline": "2026-10-01", "completed": false, "assignedUser": "`+user2+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("reassign: status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decodeData(t, w)["assignedUserName"]; got != "佐藤" {
		t.Errorf("assignedUserName = %v, want 佐藤", got)
	}

	w = doJSON(t, router, http.MethodGet, "/api/users/"+user1, "")
	if pending := decodeData(t, w)["pendingTasks"].([]any); len(pending) != 0 {
		t.Errorf("user1 pendingTasks = %v, want empty", pending)
	}
	w = doJSON(t, router, http.MethodGet, "/api/users/"+user2, "")
	if pending := decodeData(t, w)["pendingTasks"].([]any); len(pending) != 1 {
		t.Errorf("user2 pendingTasks = %v, want 1 task", pending)
	}
}

// TestIntegration_UserDeleteUnassignsTasks はユーザー削除で担当タスクが
// 未割り当てに戻ることを検証する。
func TestIntegration_UserDeleteUnassignsTasks(t *testing.T) {
	store := newMemoryStore()
	router := createIntegrationRouter(store)

	w := doJSON(t, router, http.MethodPost, "/api/users", `{"name": "田中", "email": "tanaka@example.com"}`)
	userID := decodeData(t, w)["_id"].(string)

	w = doJSON(t, router, http.MethodPost, "/api/tasks",
		`{"name": "レビュー", "deadline": "2026-10-01", "assignedUser": "`+userID+`"}`)
	taskID := decodeData(t, w)["_id"].(string)

	w = doJSON(t, router, http.MethodDelete, "/api/users/"+userID, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete user: status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/tasks/"+taskID, "")
	data := decodeData(t, w)
	if data["assignedUser"] != "" {
		t.Errorf("assignedUser = %v, want empty", data["assignedUser"])
	}
	if data["assignedUserName"] != model.UnassignedSentinel {
		t.Errorf("assignedUserName = %v, want %q", data["assignedUserName"], model.UnassignedSentinel)
	}
}

// TestIntegration_RenameCascade はユーザー名の変更が担当中タスクの
// assignedUserNameへ伝播することを検証する。
func TestIntegration_RenameCascade(t *testing.T) {
	store := newMemoryStore()
	router := createIntegrationRouter(store)

	w := doJSON(t, router, http.MethodPost, "/api/users", `{"name": "田中", "email": "tanaka@example.com"}`)
	userID := decodeData(t, w)["_id"].(string)

	w = doJSON(t, router, http.MethodPost, "/api/tasks",
		`{"name": "レビュー", "deadline": "2026-10-01", "assignedUser": "`+userID+`"}`)
	taskID := decodeData(t, w)["_id"].(string)

	w = doJSON(t, router, http.MethodPut, "/api/users/"+userID,
		`{"name": "田中太郎", "email": "tanaka@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("rename user: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/tasks/"+taskID, "")
	if got := decodeData(t, w)["assignedUserName"]; got != "田中太郎" {
		t.Errorf("assignedUserName = %v, want 田中太郎", got)
	}
}

// TestIntegration_PendingTasksSteal はpendingTasks更新による別ユーザーからの
// タスクの付け替えを検証する。
func TestIntegration_PendingTasksSteal(t *testing.T) {
	store := newMemoryStore()
	router := createIntegrationRouter(store)

	w := doJSON(t, router, http.MethodPost, "/api/users", `{"name": "田中", "email": "tanaka@example.com"}`)
	user1 := decodeData(t, w)["_id"].(string)
	w = doJSON(t, router, http.MethodPost, "/api/users", `{"name": "佐藤", "email": "sato@example.com"}`)
	user2 := decodeData(t, w)["_id"].(string)

	w = doJSON(t, router, http.MethodPost, "/api/tasks",
		`{"name": "レビュー", "deadline": "2026-10-01", "assignedUser": "`+user1+`"}`)
	taskID := decodeData(t, w)["_id"].(string)

	// user2のpendingTasksにuser1のタスクを入れる → user1から切り離される
	w = doJSON(t, router, http.MethodPut, "/api/users/"+user2,
		`{"name": "佐藤", "email": "sato@example.com", "pendingTasks": ["`+taskID+`"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("steal task: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/users/"+user1, "")
	if pending := decodeData(t, w)["pendingTasks"].([]any); len(pending) != 0 {
		t.Errorf("user1 pendingTasks = %v, want empty", pending)
	}

	w = doJSON(t, router, http.MethodGet, "/api/tasks/"+taskID, "")
	data := decodeData(t, w)
	if data["assignedUser"] != user2 {
		t.Errorf("assignedUser = %v, want %s", data["assignedUser"], user2)
	}
	if data["assignedUserName"] != "佐藤" {
		t.Errorf("assignedUserName = %v, want 佐藤", data["assignedUserName"])
	}
}

// TestIntegration_SecurityAndRequestIDHeaders はミドルウェアチェーンが
// 全ルートに適用されていることを検証する。
func TestIntegration_SecurityAndRequestIDHeaders(t *testing.T) {
	store := newMemoryStore()
	router := createIntegrationRouter(store)

	w := doJSON(t, router, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health: status = %d", w.Code)
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id header")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected X-Content-Type-Options: nosniff")
	}
}
