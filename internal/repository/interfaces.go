// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/hitoshi/taskboard/internal/model"
)

// ErrMalformedID はIDがストアの識別子形式（24桁16進）でない場合に返される。
var ErrMalformedID = errors.New("malformed document id")

// ErrDuplicateKey はユニーク制約違反（email重複）の場合に返される。
var ErrDuplicateKey = errors.New("duplicate key")

// ListOptions は一覧取得のフィルタ・ソート・射影・ページネーション条件を保持する。
// Whereはドキュメントフィルタ、Sortはフィールド順を保持したソート指定、
// Selectは射影。Limit 0 は無制限を意味する。
type ListOptions struct {
	Where  bson.M
	Sort   bson.D
	Select bson.M
	Skip   int64
	Limit  int64
}

// TaskRepository はタスクドキュメントの永続化インターフェース。
type TaskRepository interface {
	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	// IDが識別子形式でない場合はErrMalformedIDを返す。
	FindByID(ctx context.Context, id string) (*model.Task, error)

	// FindRaw は指定IDのタスクを射影適用済みの生ドキュメントで返す。
	// 見つからない場合はnilを返す。
	FindRaw(ctx context.Context, id string, sel bson.M) (bson.M, error)

	// ListRaw は条件に一致するタスクを生ドキュメントの列で返す。
	// ソートには大文字小文字・アクセントを区別しない照合順序を適用する。
	ListRaw(ctx context.Context, opts ListOptions) ([]bson.M, error)

	// Count は条件に一致するタスク数を返す。
	Count(ctx context.Context, where bson.M) (int64, error)

	// Insert はタスクを作成する。IDとdateCreatedはストア側で採番・設定され、
	// 引数のtaskに書き戻される。
	Insert(ctx context.Context, task *model.Task) error

	// UpdateByID は指定IDのタスクのフィールドを部分更新し、更新後のタスクを返す。
	// 見つからない場合はnilを返す。
	UpdateByID(ctx context.Context, id string, fields bson.M) (*model.Task, error)

	// DeleteByID は指定IDのタスクを削除する。
	DeleteByID(ctx context.Context, id string) error

	// UnassignAllForUser は指定ユーザーが担当する全タスクを未割り当て状態に戻す。
	// 完了済みタスクも対象とする（参照切れを残さないため）。
	UnassignAllForUser(ctx context.Context, userID string) (int64, error)

	// UpdateAssigneeName は指定ユーザーが担当する全タスクのassignedUserNameを
	// 一括更新する。
	UpdateAssigneeName(ctx context.Context, userID, name string) (int64, error)
}

// UserRepository はユーザードキュメントの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	// IDが識別子形式でない場合はErrMalformedIDを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindRaw は指定IDのユーザーを射影適用済みの生ドキュメントで返す。
	// 見つからない場合はnilを返す。
	FindRaw(ctx context.Context, id string, sel bson.M) (bson.M, error)

	// ListRaw は条件に一致するユーザーを生ドキュメントの列で返す。
	ListRaw(ctx context.Context, opts ListOptions) ([]bson.M, error)

	// Count は条件に一致するユーザー数を返す。
	Count(ctx context.Context, where bson.M) (int64, error)

	// Insert はユーザーを作成する。email重複時はErrDuplicateKeyを返す。
	Insert(ctx context.Context, user *model.User) error

	// UpdateByID は指定IDのユーザーのフィールドを部分更新し、更新後のユーザーを返す。
	// 見つからない場合はnilを返す。email重複時はErrDuplicateKeyを返す。
	UpdateByID(ctx context.Context, id string, fields bson.M) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	DeleteByID(ctx context.Context, id string) error

	// AddPendingTask はユーザーのpendingTasksへタスクIDを冪等に追加する。
	AddPendingTask(ctx context.Context, userID, taskID string) error

	// RemovePendingTask はユーザーのpendingTasksからタスクIDを冪等に除去する。
	RemovePendingTask(ctx context.Context, userID, taskID string) error
}
