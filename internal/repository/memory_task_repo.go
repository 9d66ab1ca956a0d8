package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/todoman/internal/model"
)

// ErrStoreClosed はClose済みのインメモリストアを操作したことを表す。
var ErrStoreClosed = errors.New("repository: memory store closed")

// ownerTasks は1ユーザー分のタスク一覧とその排他制御。
type ownerTasks struct {
	mu    sync.Mutex
	tasks []*model.Task // 作成順
}

// MemoryTaskRepo はプロセス内メモリにタスクを保持するリポジトリ。
// 縮退モード専用で、プロセス再起動で内容は失われる（永続化しない）。
// プロセスごとに1つ生成して注入し、シャットダウン時にCloseする。
// 排他は所有者IDごとのミューテックスで行う。
type MemoryTaskRepo struct {
	mu     sync.Mutex
	owners map[string]*ownerTasks
	closed bool
	now    func() time.Time
}

// NewMemoryTaskRepo はMemoryTaskRepoを生成する。
func NewMemoryTaskRepo() *MemoryTaskRepo {
	return &MemoryTaskRepo{
		owners: make(map[string]*ownerTasks),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List は所有者のタスクを作成日時の降順で返す。
func (r *MemoryTaskRepo) List(ctx context.Context, ownerID string) ([]*model.Task, error) {
	ot, err := r.owner(ownerID)
	if err != nil {
		return nil, err
	}

	ot.mu.Lock()
	defer ot.mu.Unlock()

	// 同一時刻のタスクは後に作成したものを先にする
	result := make([]*model.Task, 0, len(ot.tasks))
	for i := len(ot.tasks) - 1; i >= 0; i-- {
		result = append(result, copyTask(ot.tasks[i]))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Create はタスクを作成する。
func (r *MemoryTaskRepo) Create(ctx context.Context, ownerID, title string, priority model.Priority) (*model.Task, error) {
	if err := model.ValidateTitle(title); err != nil {
		return nil, err
	}
	if priority == "" {
		priority = model.PriorityMedium
	}
	if err := model.ValidatePriority(priority); err != nil {
		return nil, err
	}

	ot, err := r.owner(ownerID)
	if err != nil {
		return nil, err
	}

	ot.mu.Lock()
	defer ot.mu.Unlock()

	now := r.now()
	task := &model.Task{
		ID:        uuid.New().String(),
		UserID:    ownerID,
		Title:     strings.TrimSpace(title),
		Priority:  priority,
		Completed: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ot.tasks = append(ot.tasks, task)

	return copyTask(task), nil
}

// Update は指定フィールドのみを更新する。
func (r *MemoryTaskRepo) Update(ctx context.Context, ownerID, taskID string, patch model.TaskPatch) (*model.Task, error) {
	if patch.Title != nil {
		if err := model.ValidateTitle(*patch.Title); err != nil {
			return nil, err
		}
	}
	if patch.Priority != nil {
		if err := model.ValidatePriority(*patch.Priority); err != nil {
			return nil, err
		}
	}

	ot, err := r.owner(ownerID)
	if err != nil {
		return nil, err
	}

	ot.mu.Lock()
	defer ot.mu.Unlock()

	for _, task := range ot.tasks {
		// 所有者ごとに分離された一覧だが、UserIDも必ず照合する
		if task.ID != taskID || task.UserID != ownerID {
			continue
		}
		if patch.Title != nil {
			task.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Priority != nil {
			task.Priority = *patch.Priority
		}
		if patch.Completed != nil {
			task.Completed = *patch.Completed
		}
		task.UpdatedAt = nextUpdatedAt(r.now(), task.UpdatedAt)
		return copyTask(task), nil
	}

	return nil, ErrNotFound
}

// Delete はタスクを削除する。
func (r *MemoryTaskRepo) Delete(ctx context.Context, ownerID, taskID string) error {
	ot, err := r.owner(ownerID)
	if err != nil {
		return err
	}

	ot.mu.Lock()
	defer ot.mu.Unlock()

	for i, task := range ot.tasks {
		if task.ID == taskID && task.UserID == ownerID {
			ot.tasks = append(ot.tasks[:i], ot.tasks[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Close は保持しているすべてのタスクを破棄し、以降の操作をErrStoreClosedにする。
func (r *MemoryTaskRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners = nil
	r.closed = true
	return nil
}

// owner は所有者のタスク一覧を取得または作成する。
func (r *MemoryTaskRepo) owner(ownerID string) (*ownerTasks, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrStoreClosed
	}

	ot, ok := r.owners[ownerID]
	if !ok {
		ot = &ownerTasks{}
		r.owners[ownerID] = ot
	}
	return ot, nil
}

func copyTask(t *model.Task) *model.Task {
	c := *t
	return &c
}

// compile-time interface check
var _ TaskRepository = (*MemoryTaskRepo)(nil)
