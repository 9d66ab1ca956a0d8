package todo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/security"
)

// --- モック定義 ---

type mockTaskRepo struct {
	listFn   func(ctx context.Context, ownerID string) ([]*model.Task, error)
	createFn func(ctx context.Context, ownerID, title string, priority model.Priority) (*model.Task, error)
	updateFn func(ctx context.Context, ownerID, taskID string, patch model.TaskPatch) (*model.Task, error)
	deleteFn func(ctx context.Context, ownerID, taskID string) error
}

func (m *mockTaskRepo) List(ctx context.Context, ownerID string) ([]*model.Task, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockTaskRepo) Create(ctx context.Context, ownerID, title string, priority model.Priority) (*model.Task, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, title, priority)
	}
	return &model.Task{ID: "task-1", UserID: ownerID, Title: title, Priority: priority}, nil
}

func (m *mockTaskRepo) Update(ctx context.Context, ownerID, taskID string, patch model.TaskPatch) (*model.Task, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, ownerID, taskID, patch)
	}
	return &model.Task{ID: taskID, UserID: ownerID}, nil
}

func (m *mockTaskRepo) Delete(ctx context.Context, ownerID, taskID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ownerID, taskID)
	}
	return nil
}

var _ repository.TaskRepository = (*mockTaskRepo)(nil)

type mockCollector struct {
	metrics.Nop
	ops []string
}

func (m *mockCollector) RecordTaskOperation(op, result string) {
	m.ops = append(m.ops, op+":"+result)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestService(repo repository.TaskRepository, buf *bytes.Buffer) *Service {
	return NewService(repo, security.NewTitleSanitizer(), Config{StoreTimeout: time.Second}, metrics.Nop{}, newTestLogger(buf))
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// --- List ---

func TestList_ScopesByOwner(t *testing.T) {
	var gotOwner string
	repo := &mockTaskRepo{
		listFn: func(ctx context.Context, ownerID string) ([]*model.Task, error) {
			gotOwner = ownerID
			return []*model.Task{{ID: "t1", UserID: ownerID}}, nil
		},
	}
	svc := newTestService(repo, &bytes.Buffer{})

	tasks, err := svc.List(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if gotOwner != "user-a" {
		t.Errorf("owner = %q, want user-a", gotOwner)
	}
	if len(tasks) != 1 {
		t.Errorf("len(tasks) = %d, want 1", len(tasks))
	}
}

func TestList_NilBecomesEmptySlice(t *testing.T) {
	svc := newTestService(&mockTaskRepo{}, &bytes.Buffer{})

	tasks, err := svc.List(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if tasks == nil {
		t.Fatal("List() returned nil, want empty slice")
	}
}

func TestList_AppliesStoreTimeout(t *testing.T) {
	repo := &mockTaskRepo{
		listFn: func(ctx context.Context, ownerID string) ([]*model.Task, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("repository called without deadline")
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	var buf bytes.Buffer
	svc := NewService(repo, security.NewTitleSanitizer(), Config{StoreTimeout: 20 * time.Millisecond}, metrics.Nop{}, newTestLogger(&buf))

	start := time.Now()
	_, err := svc.List(context.Background(), "user-a")
	if time.Since(start) > time.Second {
		t.Error("List() did not honor the store timeout")
	}
	assertAPIErrorCode(t, err, model.ErrCodeDependencyUnavailable)
	if !strings.Contains(buf.String(), "task store timed out") {
		t.Errorf("expected timeout log, got %s", buf.String())
	}
}

// --- Create ---

func TestCreate_DefaultsPriorityToMedium(t *testing.T) {
	var gotPriority model.Priority
	repo := &mockTaskRepo{
		createFn: func(ctx context.Context, ownerID, title string, priority model.Priority) (*model.Task, error) {
			gotPriority = priority
			return &model.Task{ID: "t1", UserID: ownerID, Title: title, Priority: priority}, nil
		},
	}
	svc := newTestService(repo, &bytes.Buffer{})

	task, err := svc.Create(context.Background(), "user-a", CreateInput{Title: "buy milk"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if gotPriority != model.PriorityMedium {
		t.Errorf("priority = %q, want medium", gotPriority)
	}
	if task.UserID != "user-a" {
		t.Errorf("UserID = %q, want user-a", task.UserID)
	}
}

func TestCreate_SanitizesTitle(t *testing.T) {
	var gotTitle string
	repo := &mockTaskRepo{
		createFn: func(ctx context.Context, ownerID, title string, priority model.Priority) (*model.Task, error) {
			gotTitle = title
			return &model.Task{ID: "t1", Title: title}, nil
		},
	}
	svc := newTestService(repo, &bytes.Buffer{})

	_, err := svc.Create(context.Background(), "user-a", CreateInput{Title: "  <b>buy</b> milk<script>x()</script> "})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if gotTitle != "buy milk" {
		t.Errorf("title = %q, want %q", gotTitle, "buy milk")
	}
}

func TestCreate_RejectsInvalidInputBeforeRepository(t *testing.T) {
	tests := []struct {
		name  string
		input CreateInput
	}{
		{name: "empty title", input: CreateInput{Title: ""}},
		{name: "whitespace title", input: CreateInput{Title: "   \t\n"}},
		{name: "markup only title", input: CreateInput{Title: "<img src=x>"}},
		{name: "too long title", input: CreateInput{Title: strings.Repeat("あ", model.MaxTitleLength+1)}},
		{name: "unknown priority", input: CreateInput{Title: "ok", Priority: "urgent"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			repo := &mockTaskRepo{
				createFn: func(ctx context.Context, ownerID, title string, priority model.Priority) (*model.Task, error) {
					called = true
					return nil, nil
				},
			}
			svc := newTestService(repo, &bytes.Buffer{})

			_, err := svc.Create(context.Background(), "user-a", tt.input)
			assertAPIErrorCode(t, err, model.ErrCodeValidation)
			if called {
				t.Error("repository was called for invalid input")
			}
		})
	}
}

func TestCreate_AcceptsMaxLengthTitle(t *testing.T) {
	svc := newTestService(&mockTaskRepo{}, &bytes.Buffer{})

	_, err := svc.Create(context.Background(), "user-a", CreateInput{Title: strings.Repeat("a", model.MaxTitleLength)})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestCreate_RepositoryFailureIsDependencyUnavailable(t *testing.T) {
	repo := &mockTaskRepo{
		createFn: func(ctx context.Context, ownerID, title string, priority model.Priority) (*model.Task, error) {
			return nil, fmt.Errorf("failed to insert task: %w", errors.New("connection refused"))
		},
	}
	var buf bytes.Buffer
	svc := newTestService(repo, &buf)

	_, err := svc.Create(context.Background(), "user-a", CreateInput{Title: "buy milk"})
	assertAPIErrorCode(t, err, model.ErrCodeDependencyUnavailable)

	logs := buf.String()
	if !strings.Contains(logs, "user-a") || !strings.Contains(logs, "connection refused") {
		t.Errorf("expected user id and cause in log, got %s", logs)
	}
}

// --- Update ---

func TestUpdate_OnlySuppliedFields(t *testing.T) {
	var got model.TaskPatch
	repo := &mockTaskRepo{
		updateFn: func(ctx context.Context, ownerID, taskID string, patch model.TaskPatch) (*model.Task, error) {
			got = patch
			return &model.Task{ID: taskID, UserID: ownerID, Completed: true}, nil
		},
	}
	svc := newTestService(repo, &bytes.Buffer{})

	_, err := svc.Update(context.Background(), "user-a", "t1", UpdateInput{Completed: boolPtr(true)})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Title != nil || got.Priority != nil {
		t.Errorf("unexpected fields in patch: %+v", got)
	}
	if got.Completed == nil || !*got.Completed {
		t.Error("Completed not set in patch")
	}
}

func TestUpdate_SanitizesTitleAndParsesPriority(t *testing.T) {
	var got model.TaskPatch
	repo := &mockTaskRepo{
		updateFn: func(ctx context.Context, ownerID, taskID string, patch model.TaskPatch) (*model.Task, error) {
			got = patch
			return &model.Task{ID: taskID}, nil
		},
	}
	svc := newTestService(repo, &bytes.Buffer{})

	_, err := svc.Update(context.Background(), "user-a", "t1", UpdateInput{
		Title:    strPtr("<i>read</i> book"),
		Priority: strPtr("high"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Title == nil || *got.Title != "read book" {
		t.Errorf("title = %v, want %q", got.Title, "read book")
	}
	if got.Priority == nil || *got.Priority != model.PriorityHigh {
		t.Errorf("priority = %v, want high", got.Priority)
	}
}

func TestUpdate_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input UpdateInput
	}{
		{name: "no fields", input: UpdateInput{}},
		{name: "empty title", input: UpdateInput{Title: strPtr("  ")}},
		{name: "empty priority", input: UpdateInput{Priority: strPtr("")}},
		{name: "unknown priority", input: UpdateInput{Priority: strPtr("urgent")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			repo := &mockTaskRepo{
				updateFn: func(ctx context.Context, ownerID, taskID string, patch model.TaskPatch) (*model.Task, error) {
					called = true
					return nil, nil
				},
			}
			svc := newTestService(repo, &bytes.Buffer{})

			_, err := svc.Update(context.Background(), "user-a", "t1", tt.input)
			assertAPIErrorCode(t, err, model.ErrCodeValidation)
			if called {
				t.Error("repository was called for invalid input")
			}
		})
	}
}

func TestUpdate_NotFound(t *testing.T) {
	repo := &mockTaskRepo{
		updateFn: func(ctx context.Context, ownerID, taskID string, patch model.TaskPatch) (*model.Task, error) {
			return nil, repository.ErrNotFound
		},
	}
	var buf bytes.Buffer
	svc := newTestService(repo, &buf)

	_, err := svc.Update(context.Background(), "user-b", "t1", UpdateInput{Completed: boolPtr(true)})
	assertAPIErrorCode(t, err, model.ErrCodeTaskNotFound)
	if buf.Len() != 0 {
		t.Errorf("not found should not be logged as failure, got %s", buf.String())
	}
}

func TestUpdate_RepositoryValidationErrorPassesThrough(t *testing.T) {
	repo := &mockTaskRepo{
		updateFn: func(ctx context.Context, ownerID, taskID string, patch model.TaskPatch) (*model.Task, error) {
			return nil, model.NewValidationError("title", "タイトルは必須です")
		},
	}
	svc := newTestService(repo, &bytes.Buffer{})

	_, err := svc.Update(context.Background(), "user-a", "t1", UpdateInput{Completed: boolPtr(false)})
	assertAPIErrorCode(t, err, model.ErrCodeValidation)
}

// --- Delete ---

func TestDelete(t *testing.T) {
	tests := []struct {
		name     string
		repoErr  error
		wantCode string
	}{
		{name: "success", repoErr: nil},
		{name: "not found", repoErr: repository.ErrNotFound, wantCode: model.ErrCodeTaskNotFound},
		{name: "store closed", repoErr: repository.ErrStoreClosed, wantCode: model.ErrCodeDependencyUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotOwner, gotTask string
			repo := &mockTaskRepo{
				deleteFn: func(ctx context.Context, ownerID, taskID string) error {
					gotOwner, gotTask = ownerID, taskID
					return tt.repoErr
				},
			}
			svc := newTestService(repo, &bytes.Buffer{})

			err := svc.Delete(context.Background(), "user-a", "t1")
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("Delete() error = %v", err)
				}
			} else {
				assertAPIErrorCode(t, err, tt.wantCode)
			}
			if gotOwner != "user-a" || gotTask != "t1" {
				t.Errorf("Delete called with (%q, %q)", gotOwner, gotTask)
			}
		})
	}
}

// --- Stats ---

func TestStats(t *testing.T) {
	repo := &mockTaskRepo{
		listFn: func(ctx context.Context, ownerID string) ([]*model.Task, error) {
			return []*model.Task{
				{ID: "1", Priority: model.PriorityHigh},
				{ID: "2", Priority: model.PriorityHigh, Completed: true},
				{ID: "3", Priority: model.PriorityLow, Completed: true},
			}, nil
		},
	}
	svc := newTestService(repo, &bytes.Buffer{})

	stats, err := svc.Stats(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := model.TaskStats{Total: 3, Completed: 2, Active: 1, HighPriority: 1, CompletionRate: 67}
	if *stats != want {
		t.Errorf("Stats() = %+v, want %+v", *stats, want)
	}
}

func TestStats_Empty(t *testing.T) {
	svc := newTestService(&mockTaskRepo{}, &bytes.Buffer{})

	stats, err := svc.Stats(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if *stats != (model.TaskStats{}) {
		t.Errorf("Stats() = %+v, want zero", *stats)
	}
}

// --- メトリクス ---

func TestService_RecordsTaskOperations(t *testing.T) {
	mc := &mockCollector{}
	svc := NewService(&mockTaskRepo{}, security.NewTitleSanitizer(), Config{StoreTimeout: time.Second}, mc, newTestLogger(&bytes.Buffer{}))

	_, _ = svc.Create(context.Background(), "user-a", CreateInput{Title: "ok"})
	_, _ = svc.Create(context.Background(), "user-a", CreateInput{Title: ""})

	want := []string{"create:success", "create:failure"}
	if strings.Join(mc.ops, ",") != strings.Join(want, ",") {
		t.Errorf("ops = %v, want %v", mc.ops, want)
	}
}
