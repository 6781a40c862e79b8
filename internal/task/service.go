// Package task はタスク整合性エンジンを提供する。
// タスクの割り当て関連フィールドへの全変更と、担当ユーザーの
// pendingTasksへのカスケード副作用をここで一元管理する。
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hitoshi/taskboard/internal/metrics"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/repository"
)

// CreateInput はタスク作成の入力。
type CreateInput struct {
	Name             string
	Description      string
	Deadline         time.Time
	Completed        bool
	AssignedUser     string
	AssignedUserName string
}

// UpdateInput はタスク更新の入力。全置換のため必須フィールドはポインタで
// 渡し、nilは「リクエストに存在しなかった」ことを表す。
type UpdateInput struct {
	Name             *string
	Description      *string
	Deadline         *time.Time
	Completed        *bool
	AssignedUser     *string
	AssignedUserName *string
}

// Service はタスク整合性エンジンのサービス層。
// 一次書き込みの前に全バリデーションを行い、一次書き込み成功後の
// カスケード失敗はロールバックせずエラーとして呼び出し元へ返す。
type Service struct {
	taskRepo  repository.TaskRepository
	userRepo  repository.UserRepository
	collector metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorはnilでもよい（メトリクス収集なしで動作する）。
func NewService(taskRepo repository.TaskRepository, userRepo repository.UserRepository, collector metrics.MetricsCollector) *Service {
	return &Service{
		taskRepo:  taskRepo,
		userRepo:  userRepo,
		collector: collector,
	}
}

// Create はタスクを作成する。
// assignedUserが指定されている場合はユーザーを解決し、assignedUserNameを
// 解決結果の名前で必ず上書きする（クライアント指定値は検証にのみ使う）。
// 担当者付きかつ未完了で作成された場合、担当ユーザーのpendingTasksへ
// タスクIDを追加するカスケードを行う。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Task, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, model.NewRequiredFieldError("name")
	}
	if in.Deadline.IsZero() {
		return nil, model.NewRequiredFieldError("deadline")
	}

	// 完了済みかつ担当者付きの作成は矛盾として拒否する
	if in.Completed && in.AssignedUser != "" {
		return nil, model.NewCompletedAndAssignedError()
	}

	assignedUserName, err := s.resolveAssignment(ctx, in.AssignedUser, in.AssignedUserName)
	if err != nil {
		return nil, err
	}

	t := &model.Task{
		Name:             name,
		Description:      in.Description,
		Deadline:         in.Deadline,
		Completed:        in.Completed,
		AssignedUser:     in.AssignedUser,
		AssignedUserName: assignedUserName,
	}

	if err := s.taskRepo.Insert(ctx, t); err != nil {
		return nil, fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}

	// カスケード: 担当者付きかつ未完了なら担当ユーザーのpendingTasksへ追加
	if t.IsPending() {
		if err := s.userRepo.AddPendingTask(ctx, t.AssignedUser, t.ID.Hex()); err != nil {
			s.recordCascadeFailure("task", "create")
			slog.Error("pending list add cascade failed",
				slog.String("task_id", t.ID.Hex()),
				slog.String("user_id", t.AssignedUser),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("タスクは作成されましたがpendingTasksの更新に失敗しました: %w", err)
		}
	}

	s.recordMutation("task", "create")
	return t, nil
}

// Update はタスクを全置換更新する。
// 完了済みタスクへの更新は一切拒否する（Active→Completedの一方向状態機械）。
// 更新後、担当者の変化に応じて新旧ユーザーのpendingTasksを調停する。
// クライアント指定のdateCreated・idは常に無視される。
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*model.Task, error) {
	if in.Name == nil {
		return nil, model.NewRequiredFieldError("name")
	}
	if in.Description == nil {
		return nil, model.NewRequiredFieldError("description")
	}
	if in.Deadline == nil {
		return nil, model.NewRequiredFieldError("deadline")
	}
	if in.Completed == nil {
		return nil, model.NewRequiredFieldError("completed")
	}
	if in.AssignedUser == nil {
		return nil, model.NewRequiredFieldError("assignedUser")
	}

	name := strings.TrimSpace(*in.Name)
	if name == "" {
		return nil, model.NewRequiredFieldError("name")
	}
	if in.Deadline.IsZero() {
		return nil, model.NewRequiredFieldError("deadline")
	}

	existing, err := s.taskRepo.FindByID(ctx, id)
	if err != nil {
		return nil, mapIDError(err, id)
	}
	if existing == nil {
		return nil, model.NewTaskNotFoundError(id)
	}

	// 完了済みタスクは削除以外の変更を受け付けない
	if existing.Completed {
		return nil, model.NewTaskImmutableError(id)
	}

	newAssignee := *in.AssignedUser
	suppliedName := ""
	if in.AssignedUserName != nil {
		suppliedName = *in.AssignedUserName
	}

	assignedUserName, err := s.resolveAssignment(ctx, newAssignee, suppliedName)
	if err != nil {
		return nil, err
	}

	// 一次書き込み。dateCreatedと_idは$setに含めない
	updated, err := s.taskRepo.UpdateByID(ctx, id, bson.M{
		"name":             name,
		"description":      *in.Description,
		"deadline":         *in.Deadline,
		"completed":        *in.Completed,
		"assignedUser":     newAssignee,
		"assignedUserName": assignedUserName,
	})
	if err != nil {
		return nil, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewTaskNotFoundError(id)
	}

	if err := s.reconcilePending(ctx, existing, updated); err != nil {
		s.recordCascadeFailure("task", "update")
		return nil, fmt.Errorf("タスクは更新されましたがpendingTasksの調停に失敗しました: %w", err)
	}

	s.recordMutation("task", "update")
	return updated, nil
}

// Delete はタスクを削除する。
// 担当者がいる場合は先にそのユーザーのpendingTasksからタスクIDを除去する。
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.taskRepo.FindByID(ctx, id)
	if err != nil {
		return mapIDError(err, id)
	}
	if t == nil {
		return model.NewTaskNotFoundError(id)
	}

	if t.IsAssigned() {
		if err := s.userRepo.RemovePendingTask(ctx, t.AssignedUser, t.ID.Hex()); err != nil {
			s.recordCascadeFailure("task", "delete")
			return fmt.Errorf("pendingTasksからの除去に失敗しました: %w", err)
		}
	}

	if err := s.taskRepo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}

	s.recordMutation("task", "delete")
	return nil
}

// Get は指定IDのタスクを射影適用済みの生ドキュメントで返す。
func (s *Service) Get(ctx context.Context, id string, sel bson.M) (bson.M, error) {
	doc, err := s.taskRepo.FindRaw(ctx, id, sel)
	if err != nil {
		return nil, mapIDError(err, id)
	}
	if doc == nil {
		return nil, model.NewTaskNotFoundError(id)
	}
	return doc, nil
}

// List は条件に一致するタスクの生ドキュメント列を返す。整合性ロジックは持たない。
func (s *Service) List(ctx context.Context, opts repository.ListOptions) ([]bson.M, error) {
	return s.taskRepo.ListRaw(ctx, opts)
}

// Count は条件に一致するタスク数を返す。
func (s *Service) Count(ctx context.Context, where bson.M) (int64, error) {
	return s.taskRepo.Count(ctx, where)
}

// resolveAssignment はassignedUser/assignedUserNameの組を検証し、
// タスクに保存すべきassignedUserNameを返す。
// 担当者が指定されている場合、assignedUserNameは解決したユーザーの現在の
// 名前で必ず上書きされる。担当者なしでassignedUserNameだけが指定された
// 場合（番兵値は除く）は所有者のいない名前として拒否する。
func (s *Service) resolveAssignment(ctx context.Context, assignedUser, suppliedName string) (string, error) {
	if assignedUser == "" {
		if suppliedName != "" && suppliedName != model.UnassignedSentinel {
			return "", model.NewDanglingAssignedNameError(suppliedName)
		}
		return model.UnassignedSentinel, nil
	}

	u, err := s.userRepo.FindByID(ctx, assignedUser)
	if err != nil {
		return "", mapIDError(err, assignedUser)
	}
	if u == nil {
		return "", model.NewUserNotFoundError(assignedUser)
	}

	if suppliedName != "" && suppliedName != u.Name {
		return "", model.NewAssignedNameMismatchError(suppliedName, u.Name)
	}

	return u.Name, nil
}

// reconcilePending は更新前後のタスク状態からpendingTasksの所属を調停する。
//
// Active→Completedへの遷移では旧担当者のリストから除去して終了する。
// 完了時の再割り当てロジックは走らない。
// タスクが未完了のままの場合、担当者が変わっていれば旧担当者から除去し
// 新担当者へ追加する。担当者が変わらず設定されたままなら、冪等な追加で
// 所属を保証する。
func (s *Service) reconcilePending(ctx context.Context, before, after *model.Task) error {
	taskID := after.ID.Hex()

	if after.Completed {
		if before.IsAssigned() {
			if err := s.userRepo.RemovePendingTask(ctx, before.AssignedUser, taskID); err != nil {
				return err
			}
		}
		return nil
	}

	if before.AssignedUser != after.AssignedUser {
		if before.IsAssigned() {
			if err := s.userRepo.RemovePendingTask(ctx, before.AssignedUser, taskID); err != nil {
				return err
			}
		}
		if after.IsAssigned() {
			if err := s.userRepo.AddPendingTask(ctx, after.AssignedUser, taskID); err != nil {
				return err
			}
		}
		return nil
	}

	if after.IsAssigned() {
		if err := s.userRepo.AddPendingTask(ctx, after.AssignedUser, taskID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordMutation(entity, operation string) {
	if s.collector != nil {
		s.collector.RecordMutation(entity, operation)
	}
}

func (s *Service) recordCascadeFailure(entity, operation string) {
	if s.collector != nil {
		s.collector.RecordCascadeFailure(entity, operation)
	}
}

// mapIDError はリポジトリのID形式エラーをドメインエラーに変換する。
func mapIDError(err error, id string) error {
	if errors.Is(err, repository.ErrMalformedID) {
		return model.NewMalformedIDError(id)
	}
	return err
}
