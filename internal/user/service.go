// Package user はユーザー整合性エンジンを提供する。
// ユーザーのpendingTasksへの全変更と、参照される各タスクの割り当て
// フィールドへのカスケード副作用、および名前変更・削除時の横断カスケードを
// ここで一元管理する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hitoshi/taskboard/internal/metrics"
	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/repository"
)

// CreateInput はユーザー作成の入力。pendingTasksは作成時には受け付けず、
// 常に空集合で初期化される。
type CreateInput struct {
	Name  string
	Email string
}

// UpdateInput はユーザー更新の入力。
// PendingTasksがnilの場合はpendingTasksの調停を行わない（現状維持）。
type UpdateInput struct {
	Name         string
	Email        string
	PendingTasks *[]string
}

// Service はユーザー整合性エンジンのサービス層。
// 各カスケードステップは独立したストア操作で、部分失敗時のロールバックは
// 行わない。失敗はその操作全体の失敗として呼び出し元へ返す。
type Service struct {
	userRepo  repository.UserRepository
	taskRepo  repository.TaskRepository
	collector metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorはnilでもよい（メトリクス収集なしで動作する）。
func NewService(userRepo repository.UserRepository, taskRepo repository.TaskRepository, collector metrics.MetricsCollector) *Service {
	return &Service{
		userRepo:  userRepo,
		taskRepo:  taskRepo,
		collector: collector,
	}
}

// Create はユーザーを作成する。
// emailのユニーク制約違反はストアのduplicate keyエラーをドメインエラーに
// 変換して返す。
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)

	if name == "" {
		return nil, model.NewRequiredFieldError("name")
	}
	if email == "" {
		return nil, model.NewRequiredFieldError("email")
	}
	if !strings.Contains(email, "@") {
		return nil, model.NewInvalidEmailError(email)
	}

	u := &model.User{
		Name:         name,
		Email:        email,
		PendingTasks: []string{},
	}

	if err := s.userRepo.Insert(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.NewDuplicateEmailError(email)
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	s.recordMutation("user", "create")
	return u, nil
}

// Update はユーザーを更新する。
//
// pendingTasksが指定された場合、新リストの全タスクを検証してから
// （存在すること、完了済みでないこと）、タスク側の割り当てフィールドを
// 調停する。別ユーザーに割り当て済みのタスクはそのユーザーのリストから
// 切り離してこのユーザーへ付け替える。旧リストにあって新リストにない
// タスクは未割り当てに戻す。
//
// pendingTasksの指定有無にかかわらず、このユーザーが担当する全タスクの
// assignedUserNameへ（変更されたかもしれない）名前をカスケードする。
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*model.User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)

	if name == "" {
		return nil, model.NewRequiredFieldError("name")
	}
	if email == "" {
		return nil, model.NewRequiredFieldError("email")
	}
	if !strings.Contains(email, "@") {
		return nil, model.NewInvalidEmailError(email)
	}

	existing, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, mapIDError(err, id)
	}
	if existing == nil {
		return nil, model.NewUserNotFoundError(id)
	}

	// 他ユーザーとのemail重複を拒否する（同一ユーザーの再指定は許す）
	other, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("emailの重複確認に失敗しました: %w", err)
	}
	if other != nil && other.ID.Hex() != id {
		return nil, model.NewDuplicateEmailError(email)
	}

	fields := bson.M{"name": name, "email": email}

	if in.PendingTasks != nil {
		newList := dedupe(*in.PendingTasks)

		// 一次書き込みの前に新リストの全タスクを検証する
		resolved := make([]*model.Task, len(newList))
		for i, tid := range newList {
			t, err := s.taskRepo.FindByID(ctx, tid)
			if err != nil {
				return nil, mapIDError(err, tid)
			}
			if t == nil {
				return nil, model.NewTaskNotFoundError(tid)
			}
			// 完了済みタスクはpendingに戻せない。完了は凍結状態であり、
			// 再割り当てで未完了に戻ることもない
			if t.Completed {
				return nil, model.NewCompletedTaskPendingError(tid)
			}
			resolved[i] = t
		}

		if err := s.attachTasks(ctx, id, name, newList, resolved); err != nil {
			s.recordCascadeFailure("user", "update")
			return nil, err
		}

		if err := s.detachRemoved(ctx, existing.PendingTasks, newList); err != nil {
			s.recordCascadeFailure("user", "update")
			return nil, err
		}

		fields["pendingTasks"] = newList
	}

	updated, err := s.userRepo.UpdateByID(ctx, id, fields)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, model.NewDuplicateEmailError(email)
		}
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewUserNotFoundError(id)
	}

	// 名前変更のカスケード。pendingTasksを触らない更新でも、担当中の
	// 全タスク（完了済み含む）のassignedUserNameを現在の名前に揃える
	if _, err := s.taskRepo.UpdateAssigneeName(ctx, id, name); err != nil {
		s.recordCascadeFailure("user", "update")
		return nil, fmt.Errorf("ユーザーは更新されましたがassignedUserNameの伝播に失敗しました: %w", err)
	}

	s.recordMutation("user", "update")
	return updated, nil
}

// Delete はユーザーを削除する。
// このユーザーを参照する全タスク（完了済み含む）を未割り当てに戻してから
// ユーザードキュメントを削除する。参照切れを残さないための順序。
func (s *Service) Delete(ctx context.Context, id string) error {
	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return mapIDError(err, id)
	}
	if u == nil {
		return model.NewUserNotFoundError(id)
	}

	unassigned, err := s.taskRepo.UnassignAllForUser(ctx, id)
	if err != nil {
		s.recordCascadeFailure("user", "delete")
		return fmt.Errorf("担当タスクの割り当て解除に失敗しました: %w", err)
	}
	if unassigned > 0 {
		slog.Info("unassigned tasks for deleted user",
			slog.String("user_id", id),
			slog.Int64("count", unassigned),
		)
	}

	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	s.recordMutation("user", "delete")
	return nil
}

// Get は指定IDのユーザーを射影適用済みの生ドキュメントで返す。
func (s *Service) Get(ctx context.Context, id string, sel bson.M) (bson.M, error) {
	doc, err := s.userRepo.FindRaw(ctx, id, sel)
	if err != nil {
		return nil, mapIDError(err, id)
	}
	if doc == nil {
		return nil, model.NewUserNotFoundError(id)
	}
	return doc, nil
}

// List は条件に一致するユーザーの生ドキュメント列を返す。整合性ロジックは持たない。
func (s *Service) List(ctx context.Context, opts repository.ListOptions) ([]bson.M, error) {
	return s.userRepo.ListRaw(ctx, opts)
}

// Count は条件に一致するユーザー数を返す。
func (s *Service) Count(ctx context.Context, where bson.M) (int64, error) {
	return s.userRepo.Count(ctx, where)
}

// attachTasks は新リストの各タスクをこのユーザーへ割り当てる。
// 別ユーザーに割り当て済みのタスクは先にそのユーザーのpendingTasksから
// 切り離す。各ステップは独立したストア操作で、ロールバックしない。
func (s *Service) attachTasks(ctx context.Context, userID, userName string, newList []string, resolved []*model.Task) error {
	for i, tid := range newList {
		t := resolved[i]

		if t.IsAssigned() && t.AssignedUser != userID {
			if err := s.userRepo.RemovePendingTask(ctx, t.AssignedUser, tid); err != nil {
				return fmt.Errorf("旧担当ユーザーからの切り離しに失敗しました: %w", err)
			}
		}

		if _, err := s.taskRepo.UpdateByID(ctx, tid, bson.M{
			"assignedUser":     userID,
			"assignedUserName": userName,
		}); err != nil {
			return fmt.Errorf("タスクの割り当て更新に失敗しました: %w", err)
		}
	}
	return nil
}

// detachRemoved は旧リストにあって新リストにないタスクを未割り当てに戻す。
func (s *Service) detachRemoved(ctx context.Context, oldList, newList []string) error {
	newSet := make(map[string]struct{}, len(newList))
	for _, tid := range newList {
		newSet[tid] = struct{}{}
	}

	for _, tid := range oldList {
		if _, ok := newSet[tid]; ok {
			continue
		}
		if _, err := s.taskRepo.UpdateByID(ctx, tid, bson.M{
			"assignedUser":     "",
			"assignedUserName": model.UnassignedSentinel,
		}); err != nil {
			return fmt.Errorf("タスクの割り当て解除に失敗しました: %w", err)
		}
	}
	return nil
}

// dedupe は順序を保ったまま重複を取り除く。pendingTasksは集合として扱う。
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
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
