package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DB はMongoDBクライアントと対象データベースを保持する。
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open はMongoDB接続を開く。
// uriはMongoDBの接続URLを指定する（例: "mongodb://localhost:27017/taskboard"）。
// mongo.Connectは接続を試行しないため、実際の接続確認にはPing()を使用すること。
func Open(ctx context.Context, uri, dbName string) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to open mongodb connection: %w", err)
	}

	return &DB{
		client: client,
		db:     client.Database(dbName),
	}, nil
}

// Database はアプリケーションが使用するデータベースハンドルを返す。
func (d *DB) Database() *mongo.Database {
	return d.db
}

// Ping はプライマリへの疎通を確認する。
func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, readpref.Primary())
}

// Close は接続を切断する。
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
