// Package todo はタスク管理のドメインロジックを提供する。
// 所有者は常に認証済みのユーザーIDから決定し、クライアントが送る値は使わない。
package todo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/security"
)

// Config はタスクサービスの設定。
type Config struct {
	StoreTimeout time.Duration // リポジトリ呼び出しのタイムアウト
}

// CreateInput はタスク作成の入力。
type CreateInput struct {
	Title    string
	Priority string
}

// UpdateInput はタスク更新の入力。nilの項目は変更しない。
type UpdateInput struct {
	Title     *string
	Priority  *string
	Completed *bool
}

// Service はタスク管理のサービス層。
type Service struct {
	repo      repository.TaskRepository
	sanitizer security.TitleSanitizer
	config    Config
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.TaskRepository,
	sanitizer security.TitleSanitizer,
	config Config,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		config:    config,
		metrics:   mc,
		logger:    logger,
	}
}

// List はユーザーのタスクを作成日時の降順で返す。タスクがない場合は空スライスを返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Task, error) {
	var tasks []*model.Task
	err := s.call(ctx, "list", func(ctx context.Context) error {
		var err error
		tasks, err = s.repo.List(ctx, userID)
		return err
	})
	if err != nil {
		return nil, s.mapError("list", userID, "", err)
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	return tasks, nil
}

// Create はタスクを作成する。
// タイトルはサニタイズ後に検証し、空の場合はリポジトリを呼ばずにバリデーションエラーを返す。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Task, error) {
	title, err := s.cleanTitle(in.Title)
	if err != nil {
		s.metrics.RecordTaskOperation("create", metrics.ResultFailure)
		return nil, err
	}
	priority, err := model.ParsePriority(in.Priority)
	if err != nil {
		s.metrics.RecordTaskOperation("create", metrics.ResultFailure)
		return nil, err
	}

	var task *model.Task
	err = s.call(ctx, "create", func(ctx context.Context) error {
		var err error
		task, err = s.repo.Create(ctx, userID, title, priority)
		return err
	})
	if err != nil {
		return nil, s.mapError("create", userID, "", err)
	}
	return task, nil
}

// Update は指定された項目のみを更新する。
// 更新項目が1つもない場合はバリデーションエラーを返す。
func (s *Service) Update(ctx context.Context, userID, taskID string, in UpdateInput) (*model.Task, error) {
	patch, err := s.buildPatch(in)
	if err != nil {
		s.metrics.RecordTaskOperation("update", metrics.ResultFailure)
		return nil, err
	}

	var task *model.Task
	err = s.call(ctx, "update", func(ctx context.Context) error {
		var err error
		task, err = s.repo.Update(ctx, userID, taskID, patch)
		return err
	})
	if err != nil {
		return nil, s.mapError("update", userID, taskID, err)
	}
	return task, nil
}

// Delete はタスクを削除する。
func (s *Service) Delete(ctx context.Context, userID, taskID string) error {
	err := s.call(ctx, "delete", func(ctx context.Context) error {
		return s.repo.Delete(ctx, userID, taskID)
	})
	if err != nil {
		return s.mapError("delete", userID, taskID, err)
	}
	return nil
}

// Stats はユーザーのタスクの集計値を返す。
func (s *Service) Stats(ctx context.Context, userID string) (*model.TaskStats, error) {
	tasks, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := model.ComputeStats(tasks)
	return &stats, nil
}

func (s *Service) cleanTitle(raw string) (string, error) {
	title := s.sanitizer.Sanitize(raw)
	if err := model.ValidateTitle(title); err != nil {
		return "", err
	}
	return title, nil
}

func (s *Service) buildPatch(in UpdateInput) (model.TaskPatch, error) {
	var patch model.TaskPatch

	if in.Title != nil {
		title, err := s.cleanTitle(*in.Title)
		if err != nil {
			return patch, err
		}
		patch.Title = &title
	}
	if in.Priority != nil {
		if *in.Priority == "" {
			return patch, model.NewValidationError("priority", "low, medium, high のいずれかを指定してください")
		}
		p, err := model.ParsePriority(*in.Priority)
		if err != nil {
			return patch, err
		}
		patch.Priority = &p
	}
	patch.Completed = in.Completed

	if patch.Empty() {
		return patch, model.NewValidationError("body", "更新する項目を1つ以上指定してください")
	}
	return patch, nil
}

// call はタイムアウト付きのコンテキストでリポジトリを呼び出し、レイテンシと結果を記録する。
func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordDependencyLatency("task_store", time.Since(start))

	if err != nil {
		s.metrics.RecordTaskOperation(op, metrics.ResultFailure)
		return err
	}
	s.metrics.RecordTaskOperation(op, metrics.ResultSuccess)
	return nil
}

// mapError はリポジトリのエラーを統一エラーに変換する。
// 想定外の障害はユーザーIDとタスクIDを付けてログに記録し、DEPENDENCY_UNAVAILABLEとして返す。
func (s *Service) mapError(op, userID, taskID string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewTaskNotFoundError(taskID)
	}

	attrs := []any{
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	}
	if taskID != "" {
		attrs = append(attrs, slog.String("task_id", taskID))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Error("task store timed out", attrs...)
	} else {
		s.logger.Error("task store unavailable", attrs...)
	}
	return model.NewDependencyUnavailableError()
}
