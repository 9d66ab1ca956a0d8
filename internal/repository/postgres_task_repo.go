package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/todoman/internal/model"
)

const taskColumns = `id, user_id, title, priority, completed, created_at, updated_at`

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
// 更新・削除は「id AND user_id」の複合条件による単一SQLで行い、
// 読み取りと書き込みの間に他リクエストが割り込む余地を作らない。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

// List は所有者のタスクを作成日時の降順で返す。
func (r *PostgresTaskRepo) List(ctx context.Context, ownerID string) ([]*model.Task, error) {
	tasks := make([]*model.Task, 0)
	if !isUUID(ownerID) {
		return tasks, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+`
		 FROM todos
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return tasks, nil
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, ownerID, title string, priority model.Priority) (*model.Task, error) {
	if err := model.ValidateTitle(title); err != nil {
		return nil, err
	}
	if priority == "" {
		priority = model.PriorityMedium
	}
	if err := model.ValidatePriority(priority); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task := &model.Task{
		ID:        uuid.New().String(),
		UserID:    ownerID,
		Title:     strings.TrimSpace(title),
		Priority:  priority,
		Completed: false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	row := r.db.QueryRowContext(ctx,
		`INSERT INTO todos (id, user_id, title, priority, completed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+taskColumns,
		task.ID, task.UserID, task.Title, string(task.Priority), task.Completed, task.CreatedAt, task.UpdatedAt,
	)
	created, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	return created, nil
}

// Update は指定フィールドのみを更新する。
// nilのフィールドはCOALESCEにより既存値を維持する。
// updated_atはGREATESTにより常に前回値より後へ進める。
func (r *PostgresTaskRepo) Update(ctx context.Context, ownerID, taskID string, patch model.TaskPatch) (*model.Task, error) {
	if !isUUID(taskID) || !isUUID(ownerID) {
		return nil, ErrNotFound
	}

	var title *string
	if patch.Title != nil {
		if err := model.ValidateTitle(*patch.Title); err != nil {
			return nil, err
		}
		t := strings.TrimSpace(*patch.Title)
		title = &t
	}
	var priority *string
	if patch.Priority != nil {
		if err := model.ValidatePriority(*patch.Priority); err != nil {
			return nil, err
		}
		p := string(*patch.Priority)
		priority = &p
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE todos SET
		    title      = COALESCE($3::text, title),
		    priority   = COALESCE($4::text, priority),
		    completed  = COALESCE($5::boolean, completed),
		    updated_at = GREATEST($6::timestamptz, updated_at + interval '1 microsecond')
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+taskColumns,
		taskID, ownerID, title, priority, patch.Completed, time.Now().UTC(),
	)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return task, nil
}

// Delete はタスクを削除する。
func (r *PostgresTaskRepo) Delete(ctx context.Context, ownerID, taskID string) error {
	if !isUUID(taskID) || !isUUID(ownerID) {
		return ErrNotFound
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM todos WHERE id = $1 AND user_id = $2`,
		taskID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (*model.Task, error) {
	task := &model.Task{}
	var priority string
	err := s.Scan(
		&task.ID, &task.UserID, &task.Title, &priority,
		&task.Completed, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Priority = model.Priority(priority)
	return task, nil
}

// isUUID はIDがUUID形式かどうかを判定する。
// UUID列に不正な文字列を渡すとPostgreSQLがエラーを返すため、事前に弾いてNotFound扱いにする。
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
