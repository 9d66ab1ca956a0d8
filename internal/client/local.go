package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/security"
)

// LocalUserID はサーバーを使わない単独動作時のタスク所有者。
const LocalUserID = "local"

// Storage はタスク一覧のJSON文書を保存する先。
// 未保存の場合、Loadはnilを返す。
type Storage interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileStorage はファイルにJSON文書を保存する。
type FileStorage struct {
	path string
}

// NewFileStorage はFileStorageを生成する。
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Load はファイルを読み込む。ファイルが存在しない場合はnilを返す。
func (s *FileStorage) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return data, nil
}

// Save は一時ファイルに書き込んでから置き換える。
func (s *FileStorage) Save(data []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// MemoryStorage はメモリ上にJSON文書を保持する。
type MemoryStorage struct {
	mu   sync.Mutex
	data []byte
}

// Load は保持しているデータのコピーを返す。
func (s *MemoryStorage) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data), nil
}

// Save はデータのコピーを保持する。
func (s *MemoryStorage) Save(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = slices.Clone(data)
	return nil
}

// LocalBackend はサーバーを使わずStorageにタスクを保存するTaskAPI。
// 入力検証とエラー形式はサーバーと揃える。
type LocalBackend struct {
	mu        sync.Mutex
	storage   Storage
	sanitizer security.TitleSanitizer
	now       func() time.Time
}

// NewLocalBackend はLocalBackendを生成する。
func NewLocalBackend(storage Storage, sanitizer security.TitleSanitizer) *LocalBackend {
	return &LocalBackend{
		storage:   storage,
		sanitizer: sanitizer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List はタスクを作成日時の降順で返す。
func (b *LocalBackend) List(ctx context.Context) ([]model.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(tasks, func(a, b model.Task) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return tasks, nil
}

// Create はタスクを作成して保存する。
func (b *LocalBackend) Create(ctx context.Context, title string, priority model.Priority) (*model.Task, error) {
	title, err := b.cleanTitle(title)
	if err != nil {
		return nil, err
	}
	if priority == "" {
		priority = model.PriorityMedium
	}
	if !priority.Valid() {
		return nil, invalidPriorityError()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tasks, err := b.load()
	if err != nil {
		return nil, err
	}

	now := b.now()
	task := model.Task{
		ID:        uuid.New().String(),
		UserID:    LocalUserID,
		Title:     title,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.save(append(tasks, task)); err != nil {
		return nil, err
	}
	return &task, nil
}

// Update は指定フィールドのみを更新して保存する。
func (b *LocalBackend) Update(ctx context.Context, id string, req UpdateRequest) (*model.Task, error) {
	if req.Empty() {
		return nil, emptyUpdateError()
	}
	if req.Title != nil {
		title, err := b.cleanTitle(*req.Title)
		if err != nil {
			return nil, err
		}
		req.Title = &title
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return nil, invalidPriorityError()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	i := indexOf(tasks, id)
	if i < 0 {
		return nil, notFoundError(id)
	}

	now := b.now()
	if !now.After(tasks[i].UpdatedAt) {
		now = tasks[i].UpdatedAt.Add(time.Microsecond)
	}
	tasks[i] = applyUpdate(tasks[i], req, now)
	if err := b.save(tasks); err != nil {
		return nil, err
	}
	updated := tasks[i]
	return &updated, nil
}

// Delete はタスクを削除して保存する。
func (b *LocalBackend) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tasks, err := b.load()
	if err != nil {
		return err
	}
	i := indexOf(tasks, id)
	if i < 0 {
		return notFoundError(id)
	}
	return b.save(slices.Delete(tasks, i, i+1))
}

func (b *LocalBackend) cleanTitle(title string) (string, error) {
	if b.sanitizer != nil {
		title = b.sanitizer.Sanitize(title)
	}
	if err := model.ValidateTitle(title); err != nil {
		return "", validationError(err)
	}
	return strings.TrimSpace(title), nil
}

func (b *LocalBackend) load() ([]model.Task, error) {
	data, err := b.storage.Load()
	if err != nil {
		return nil, storageError(err)
	}
	tasks := []model.Task{}
	if len(data) == 0 {
		return tasks, nil
	}
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, storageError(fmt.Errorf("failed to decode tasks: %w", err))
	}
	return tasks, nil
}

func (b *LocalBackend) save(tasks []model.Task) error {
	data, err := json.Marshal(tasks)
	if err != nil {
		return storageError(fmt.Errorf("failed to encode tasks: %w", err))
	}
	if err := b.storage.Save(data); err != nil {
		return storageError(err)
	}
	return nil
}

// storageError は保存先の障害をサーバーの依存先障害と同じ形式で返す。
func storageError(err error) error {
	return fmt.Errorf("%w: %v", fromAPIError(http.StatusInternalServerError, model.NewDependencyUnavailableError()), err)
}

// compile-time interface check
var (
	_ TaskAPI = (*LocalBackend)(nil)
	_ Storage = (*FileStorage)(nil)
	_ Storage = (*MemoryStorage)(nil)
)
