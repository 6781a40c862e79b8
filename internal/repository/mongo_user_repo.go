package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/taskboard/internal/model"
)

// MongoUserRepo はUserRepositoryのMongoDB実装。
// emailのユニーク制約はusersコレクションのユニークインデックスで担保する
// （migrateサブコマンドで作成）。
type MongoUserRepo struct {
	coll *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{coll: db.Collection("users")}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return nil, err
	}

	var user model.User
	err = r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// FindByEmail は指定メールアドレスのユーザーを取得する。見つからない場合はnilを返す。
// emailのユニーク性は大文字小文字を区別して照合する。
func (r *MongoUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.coll.FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return &user, nil
}

// FindRaw は指定IDのユーザーを射影適用済みの生ドキュメントで返す。
func (r *MongoUserRepo) FindRaw(ctx context.Context, id string, sel bson.M) (bson.M, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return nil, err
	}

	opts := options.FindOne()
	if len(sel) > 0 {
		opts.SetProjection(sel)
	}

	var doc bson.M
	err = r.coll.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc, nil
}

// ListRaw は条件に一致するユーザーを生ドキュメントの列で返す。
func (r *MongoUserRepo) ListRaw(ctx context.Context, listOpts ListOptions) ([]bson.M, error) {
	docs, err := listRaw(ctx, r.coll, listOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return docs, nil
}

// Count は条件に一致するユーザー数を返す。
func (r *MongoUserRepo) Count(ctx context.Context, where bson.M) (int64, error) {
	if where == nil {
		where = bson.M{}
	}
	n, err := r.coll.CountDocuments(ctx, where)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// Insert はユーザーを作成する。email重複時はErrDuplicateKeyを返す。
func (r *MongoUserRepo) Insert(ctx context.Context, user *model.User) error {
	if user.DateCreated.IsZero() {
		user.DateCreated = time.Now().UTC()
	}
	if user.PendingTasks == nil {
		user.PendingTasks = []string{}
	}

	res, err := r.coll.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: email %s", ErrDuplicateKey, user.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	user.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// UpdateByID は指定IDのユーザーを部分更新し、更新後のユーザーを返す。
func (r *MongoUserRepo) UpdateByID(ctx context.Context, id string, fields bson.M) (*model.User, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return nil, err
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user model.User
	err = r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": fields}, opts).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("%w", ErrDuplicateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return &user, nil
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *MongoUserRepo) DeleteByID(ctx context.Context, id string) error {
	oid, err := parseObjectID(id)
	if err != nil {
		return err
	}

	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// AddPendingTask はユーザーのpendingTasksへタスクIDを冪等に追加する。
// $addToSetにより、リトライされても重複登録されない。
func (r *MongoUserRepo) AddPendingTask(ctx context.Context, userID, taskID string) error {
	oid, err := parseObjectID(userID)
	if err != nil {
		return err
	}

	_, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$addToSet": bson.M{"pendingTasks": taskID}},
	)
	if err != nil {
		return fmt.Errorf("failed to add pending task: %w", err)
	}
	return nil
}

// RemovePendingTask はユーザーのpendingTasksからタスクIDを冪等に除去する。
func (r *MongoUserRepo) RemovePendingTask(ctx context.Context, userID, taskID string) error {
	oid, err := parseObjectID(userID)
	if err != nil {
		return err
	}

	_, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$pull": bson.M{"pendingTasks": taskID}},
	)
	if err != nil {
		return fmt.Errorf("failed to remove pending task: %w", err)
	}
	return nil
}
