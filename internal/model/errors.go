// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, task, user, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeRequiredField        = "REQUIRED_FIELD"
	ErrCodeInvalidEmail         = "INVALID_EMAIL"
	ErrCodeInvalidDeadline      = "INVALID_DEADLINE"
	ErrCodeMalformedID          = "MALFORMED_ID"
	ErrCodeTaskNotFound         = "TASK_NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeDuplicateEmail       = "DUPLICATE_EMAIL"
	ErrCodeAssignedNameMismatch = "ASSIGNED_NAME_MISMATCH"
	ErrCodeDanglingAssignedName = "DANGLING_ASSIGNED_NAME"
	ErrCodeCompletedAndAssigned = "COMPLETED_AND_ASSIGNED"
	ErrCodeTaskImmutable        = "TASK_IMMUTABLE"
	ErrCodeCompletedTaskPending = "COMPLETED_TASK_PENDING"
	ErrCodeInvalidQuery         = "INVALID_QUERY"
)

// NewRequiredFieldError は必須フィールドの欠落・空文字エラーを生成する。
func NewRequiredFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeRequiredField,
		Message:  fmt.Sprintf("必須フィールドが指定されていません: %s", field),
		Category: "validation",
		Action:   fmt.Sprintf("%s を空でない値で指定してください。", field),
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "@ を含む正しい形式のメールアドレスを指定してください。",
	}
}

// NewInvalidDeadlineError は期限の解析失敗エラーを生成する。
func NewInvalidDeadlineError(value string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDeadline,
		Message:  fmt.Sprintf("期限を日時として解釈できません: %s", value),
		Category: "validation",
		Action:   "RFC 3339形式（例: 2025-01-01T00:00:00Z）または YYYY-MM-DD 形式で指定してください。",
	}
}

// NewMalformedIDError はIDがストアの識別子形式でない場合のエラーを生成する。
func NewMalformedIDError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedID,
		Message:  fmt.Sprintf("無効なID形式です: %s", id),
		Category: "validation",
		Action:   "IDは24桁の16進文字列で指定してください。",
	}
}

// NewTaskNotFoundError はタスク未検出エラーを生成する。
func NewTaskNotFoundError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskNotFound,
		Message:  fmt.Sprintf("指定されたタスクが見つかりません: %s", taskID),
		Category: "task",
		Action:   "タスクIDを確認してください。",
	}
}

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("指定されたユーザーが見つかりません: %s", userID),
		Category: "user",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  fmt.Sprintf("このメールアドレスは既に使用されています: %s", email),
		Category: "user",
		Action:   "別のメールアドレスを指定してください。",
	}
}

// NewAssignedNameMismatchError はassignedUserNameが担当ユーザーの現在の名前と
// 一致しない場合のエラーを生成する。
func NewAssignedNameMismatchError(supplied, actual string) *APIError {
	return &APIError{
		Code:     ErrCodeAssignedNameMismatch,
		Message:  fmt.Sprintf("assignedUserNameが担当ユーザーの名前と一致しません: %s（正: %s）", supplied, actual),
		Category: "task",
		Action:   "assignedUserNameを省略するか、担当ユーザーの現在の名前を指定してください。",
	}
}

// NewDanglingAssignedNameError は担当ユーザーなしでassignedUserNameだけが
// 指定された場合のエラーを生成する。
func NewDanglingAssignedNameError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeDanglingAssignedName,
		Message:  fmt.Sprintf("assignedUserが未指定のままassignedUserNameは設定できません: %s", name),
		Category: "validation",
		Action:   "assignedUserを指定するか、assignedUserNameを省略してください。",
	}
}

// NewCompletedAndAssignedError は完了済みかつ担当者付きでのタスク作成エラーを生成する。
func NewCompletedAndAssignedError() *APIError {
	return &APIError{
		Code:     ErrCodeCompletedAndAssigned,
		Message:  "完了済みのタスクを担当者付きで作成することはできません。",
		Category: "validation",
		Action:   "completedとassignedUserのいずれか一方のみを指定してください。",
	}
}

// NewTaskImmutableError は完了済みタスクへの変更試行エラーを生成する。
// 完了済みタスクは削除以外のいかなる変更も受け付けない。
func NewTaskImmutableError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeTaskImmutable,
		Message:  fmt.Sprintf("完了済みのタスクは変更できません: %s", taskID),
		Category: "validation",
		Action:   "完了済みタスクに対して可能な操作は削除のみです。",
	}
}

// NewCompletedTaskPendingError は完了済みタスクをpendingTasksへ登録しようとした
// 場合のエラーを生成する。
func NewCompletedTaskPendingError(taskID string) *APIError {
	return &APIError{
		Code:     ErrCodeCompletedTaskPending,
		Message:  fmt.Sprintf("完了済みのタスクはpendingTasksに登録できません: %s", taskID),
		Category: "task",
		Action:   "未完了のタスクのみをpendingTasksに指定してください。",
	}
}

// NewInvalidQueryError は無効なクエリパラメータエラーを生成する。
func NewInvalidQueryError(param string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("無効なクエリパラメータです: %s", param),
		Category: "validation",
		Action:   "where/sort/selectはJSON、skip/limitは整数で指定してください。",
	}
}
