package repository

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/hitoshi/todoman/internal/database"
	"github.com/hitoshi/todoman/internal/model"
)

// openTestDB はTEST_DATABASE_URLのデータベースに接続しマイグレーションを適用する。
// 未設定または接続できない場合はテストをスキップする。
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := database.Ping(context.Background(), db, 3*time.Second); err != nil {
		db.Close()
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		db.Close()
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func truncateTestDB(t *testing.T, db *sql.DB) {
	t.Helper()
	if _, err := db.Exec(`TRUNCATE revoked_tokens, todos, users CASCADE`); err != nil {
		t.Fatalf("テーブルの初期化に失敗: %v", err)
	}
}

func createTestUser(t *testing.T, repo UserRepository) *model.User {
	t.Helper()
	id := uuid.New().String()
	user := &model.User{
		ID:           id,
		Email:        id + "@example.com",
		Name:         "tester",
		PasswordHash: "$2a$10$placeholder",
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("ユーザー作成に失敗: %v", err)
	}
	return user
}
