package database

import (
	"context"
	"os"
	"testing"
	"time"
)

// testMongoURI はテスト用のMongoDB接続URLを返す。
// 環境変数 TEST_MONGODB_URI が設定されていればそれを使用し、
// 未設定の場合はdocker-compose上のMongoDBを想定したデフォルト値を返す。
func testMongoURI(t *testing.T) string {
	t.Helper()
	if uri := os.Getenv("TEST_MONGODB_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017/taskboard_test"
}

// TestOpen_ReturnsDBWithoutConnecting はmongo.Connectは接続を試行しないため、
// サーバーなしでもDBオブジェクトが返ることを検証する。
// 実際の接続確認にはPingが必要。
func TestOpen_ReturnsDBWithoutConnecting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	db, err := Open(ctx, "mongodb://localhost:1", "taskboard_test")
	if err != nil {
		t.Fatalf("Open returned unexpected error: %v", err)
	}
	if db == nil {
		t.Fatal("expected non-nil db")
	}
	defer db.Close(ctx)

	if db.Database() == nil {
		t.Error("expected non-nil database handle")
	}
	if db.Database().Name() != "taskboard_test" {
		t.Errorf("database name = %q, want taskboard_test", db.Database().Name())
	}
}

// TestOpen_WithInvalidURI_ReturnsError は不正な接続URLがエラーになることを検証する。
func TestOpen_WithInvalidURI_ReturnsError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Open(ctx, "not-a-mongodb-uri", "taskboard_test"); err == nil {
		t.Fatal("expected error for invalid URI")
	}
}

// TestPing_WithLiveServer はMongoDBが起動している環境での疎通確認を検証する。
// サーバーに接続できない場合はスキップする。
func TestPing_WithLiveServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	db, err := Open(ctx, testMongoURI(t), "taskboard_test")
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer db.Close(context.Background())

	if err := db.Ping(ctx); err != nil {
		t.Skipf("テスト用MongoDBに接続できません（スキップ）: %v", err)
	}
}
