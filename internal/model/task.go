// Package model はドメインモデルを定義する。
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UnassignedSentinel は担当者がいないタスクのassignedUserNameに設定するマーカー値。
const UnassignedSentinel = "unassigned"

// Task は管理対象のタスクを表す。
// AssignedUserは担当ユーザーのIDを16進文字列で保持し、未割り当ての場合は空文字列。
// AssignedUserNameは担当ユーザー名の非正規化コピーで、未割り当ての場合は
// UnassignedSentinelになる。
type Task struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Name             string             `bson:"name" json:"name"`
	Description      string             `bson:"description" json:"description"`
	Deadline         time.Time          `bson:"deadline" json:"deadline"`
	Completed        bool               `bson:"completed" json:"completed"`
	AssignedUser     string             `bson:"assignedUser" json:"assignedUser"`
	AssignedUserName string             `bson:"assignedUserName" json:"assignedUserName"`
	DateCreated      time.Time          `bson:"dateCreated" json:"dateCreated"`
}

// IsAssigned は担当ユーザーが設定されているかを返す。
func (t *Task) IsAssigned() bool {
	return t.AssignedUser != ""
}

// IsPending は未完了かつ担当ユーザーが設定されているかを返す。
// pendingTasksに現れてよいのはこの状態のタスクのみ。
func (t *Task) IsPending() bool {
	return t.IsAssigned() && !t.Completed
}
