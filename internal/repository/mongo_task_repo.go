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

// caseInsensitiveCollation は一覧ソートに適用する照合順序。
// strength 1 は大文字小文字・アクセントを区別しない。
var caseInsensitiveCollation = &options.Collation{Locale: "en", Strength: 1}

// parseObjectID はIDの16進文字列をObjectIDに変換する。
// 形式が不正な場合はErrMalformedIDを返す。
func parseObjectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %s", ErrMalformedID, id)
	}
	return oid, nil
}

// MongoTaskRepo はTaskRepositoryのMongoDB実装。
type MongoTaskRepo struct {
	coll *mongo.Collection
}

// NewMongoTaskRepo はMongoTaskRepoを生成する。
func NewMongoTaskRepo(db *mongo.Database) *MongoTaskRepo {
	return &MongoTaskRepo{coll: db.Collection("tasks")}
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *MongoTaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return nil, err
	}

	var task model.Task
	err = r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return &task, nil
}

// FindRaw は指定IDのタスクを射影適用済みの生ドキュメントで返す。
func (r *MongoTaskRepo) FindRaw(ctx context.Context, id string, sel bson.M) (bson.M, error) {
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
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return doc, nil
}

// ListRaw は条件に一致するタスクを生ドキュメントの列で返す。
func (r *MongoTaskRepo) ListRaw(ctx context.Context, listOpts ListOptions) ([]bson.M, error) {
	docs, err := listRaw(ctx, r.coll, listOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return docs, nil
}

// Count は条件に一致するタスク数を返す。
func (r *MongoTaskRepo) Count(ctx context.Context, where bson.M) (int64, error) {
	if where == nil {
		where = bson.M{}
	}
	n, err := r.coll.CountDocuments(ctx, where)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

// Insert はタスクを作成する。IDとdateCreatedはここで採番・設定する。
// dateCreatedは書き込み一度きりで、以降の更新では変更されない。
func (r *MongoTaskRepo) Insert(ctx context.Context, task *model.Task) error {
	if task.DateCreated.IsZero() {
		task.DateCreated = time.Now().UTC()
	}

	res, err := r.coll.InsertOne(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	task.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// UpdateByID は指定IDのタスクを部分更新し、更新後のタスクを返す。
func (r *MongoTaskRepo) UpdateByID(ctx context.Context, id string, fields bson.M) (*model.Task, error) {
	oid, err := parseObjectID(id)
	if err != nil {
		return nil, err
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var task model.Task
	err = r.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": fields}, opts).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return &task, nil
}

// DeleteByID は指定IDのタスクを削除する。
func (r *MongoTaskRepo) DeleteByID(ctx context.Context, id string) error {
	oid, err := parseObjectID(id)
	if err != nil {
		return err
	}

	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// UnassignAllForUser は指定ユーザーが担当する全タスクを未割り当てに戻す。
// ユーザー削除時の後始末なので、完了済みタスクの参照も含めて一括更新する。
func (r *MongoTaskRepo) UnassignAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"assignedUser": userID},
		bson.M{"$set": bson.M{
			"assignedUser":     "",
			"assignedUserName": model.UnassignedSentinel,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to unassign tasks: %w", err)
	}
	return res.ModifiedCount, nil
}

// UpdateAssigneeName は指定ユーザーが担当する全タスクのassignedUserNameを一括更新する。
func (r *MongoTaskRepo) UpdateAssigneeName(ctx context.Context, userID, name string) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"assignedUser": userID},
		bson.M{"$set": bson.M{"assignedUserName": name}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update assignee name: %w", err)
	}
	return res.ModifiedCount, nil
}

// listRaw はListOptionsをmongoのFindオプションに変換して実行する共通処理。
func listRaw(ctx context.Context, coll *mongo.Collection, listOpts ListOptions) ([]bson.M, error) {
	where := listOpts.Where
	if where == nil {
		where = bson.M{}
	}

	opts := options.Find().SetCollation(caseInsensitiveCollation)
	if len(listOpts.Sort) > 0 {
		opts.SetSort(listOpts.Sort)
	}
	if len(listOpts.Select) > 0 {
		opts.SetProjection(listOpts.Select)
	}
	if listOpts.Skip > 0 {
		opts.SetSkip(listOpts.Skip)
	}
	if listOpts.Limit > 0 {
		opts.SetLimit(listOpts.Limit)
	}

	cursor, err := coll.Find(ctx, where, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := []bson.M{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}
