// Package database はMongoDB接続とインデックスマイグレーション管理を提供する。
package database

import (
	"embed"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mongodb"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.json
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// uriにはデータベース名を含むMongoDBの接続URLを指定する
// （例: "mongodb://localhost:27017/taskboard"）。
// 各マイグレーションファイルはデータベースコマンドのJSON配列。
func NewMigrator(uri string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// migrationURI は接続URLのパスを対象データベース名に差し替える。
// mongodbドライバはURLパスからマイグレーション対象を決定するため、
// データベース名を含まない接続URLでも動作するようにする。
func migrationURI(uri, dbName string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid connection uri: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

// RunMigrations は指定データベースにすべてのマイグレーションを適用する。
// usersコレクションのemailユニークインデックスとtasksコレクションの
// assignedUserインデックスを作成する。すでに最新の場合はエラーなしで返る。
func RunMigrations(uri, dbName string) error {
	target, err := migrationURI(uri, dbName)
	if err != nil {
		return err
	}

	m, err := NewMigrator(target)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
