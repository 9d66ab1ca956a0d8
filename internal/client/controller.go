package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/todoman/internal/model"
)

// tempIDPrefix は楽観的作成で一時的に割り当てるIDの接頭辞。
const tempIDPrefix = "pending-"

// Renderer は確定した変更を画面へ反映する。
// Renderはロック保持中に呼ばれるため、実装からControllerのメソッドを呼んではならない。
type Renderer interface {
	Render(patches []Patch, visible []model.Task)
}

// ErrorReporter は利用者に見えるエラー通知先。
type ErrorReporter interface {
	Report(op string, err error)
}

// RendererFunc は関数をRendererとして扱うアダプタ。
type RendererFunc func(patches []Patch, visible []model.Task)

// Render はf(patches, visible)を呼ぶ。
func (f RendererFunc) Render(patches []Patch, visible []model.Task) { f(patches, visible) }

// ErrorReporterFunc は関数をErrorReporterとして扱うアダプタ。
type ErrorReporterFunc func(op string, err error)

// Report はf(op, err)を呼ぶ。
func (f ErrorReporterFunc) Report(op string, err error) { f(op, err) }

// ControllerOption はControllerのオプション。
type ControllerOption func(*Controller)

// WithRenderer は描画先を設定する。
func WithRenderer(r Renderer) ControllerOption {
	return func(c *Controller) { c.renderer = r }
}

// WithErrorReporter はエラー通知先を設定する。
func WithErrorReporter(r ErrorReporter) ControllerOption {
	return func(c *Controller) { c.reporter = r }
}

// WithOptimistic は楽観的更新を有効にする。
// 有効な場合はAPI呼び出しの前にミラーへ反映し、失敗時はその変更だけを取り消す。
func WithOptimistic() ControllerOption {
	return func(c *Controller) { c.optimistic = true }
}

// Controller はタスク一覧のミラーと表示条件を管理し、変更をAPIと同期する。
// ミラーへの確定はAPI呼び出しが成功した場合のみ行う。
type Controller struct {
	api        TaskAPI
	renderer   Renderer
	reporter   ErrorReporter
	logger     *slog.Logger
	optimistic bool
	now        func() time.Time

	mu      sync.Mutex
	state   State
	visible []model.Task
}

// NewController はControllerを生成する。
func NewController(api TaskAPI, logger *slog.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		api:      api,
		renderer: RendererFunc(func([]Patch, []model.Task) {}),
		reporter: ErrorReporterFunc(func(string, error) {}),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		state:    NewState(),
		visible:  []model.Task{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State は現在の状態のコピーを返す。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Reduce(c.state, Loaded{Tasks: c.state.Tasks})
}

// Visible は現在表示しているタスクを返す。
func (c *Controller) Visible() []model.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Task, len(c.visible))
	copy(out, c.visible)
	return out
}

// Stats はミラー全体の集計値を返す。
func (c *Controller) Stats() model.TaskStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats(c.state)
}

// Load はサーバーから一覧を取得してミラーを置き換える。
func (c *Controller) Load(ctx context.Context) error {
	tasks, err := c.api.List(ctx)
	if err != nil {
		return c.fail("load", err)
	}
	c.commit(Loaded{Tasks: tasks})
	return nil
}

// Create はタスクを作成する。入力が不正な場合はAPIを呼ばずにエラーを返す。
func (c *Controller) Create(ctx context.Context, title, priority string) (*model.Task, error) {
	p, err := model.ParsePriority(priority)
	if err != nil {
		return nil, c.fail("create", validationError(err))
	}
	if err := model.ValidateTitle(title); err != nil {
		return nil, c.fail("create", validationError(err))
	}
	title = strings.TrimSpace(title)

	if !c.optimistic {
		task, err := c.api.Create(ctx, title, p)
		if err != nil {
			return nil, c.fail("create", err)
		}
		c.commit(Inserted{Index: 0, Task: *task})
		return task, nil
	}

	now := c.now()
	pending := model.Task{
		ID:        tempIDPrefix + uuid.New().String(),
		Title:     title,
		Priority:  p,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.commit(Inserted{Index: 0, Task: pending})

	task, err := c.api.Create(ctx, title, p)
	if err != nil {
		c.commit(Removed{ID: pending.ID})
		return nil, c.fail("create", err)
	}
	c.commit(Replaced{ID: pending.ID, Task: *task})
	return task, nil
}

// Update はタスクを部分更新する。
func (c *Controller) Update(ctx context.Context, id string, req UpdateRequest) (*model.Task, error) {
	if req.Empty() {
		return nil, c.fail("update", emptyUpdateError())
	}
	if req.Title != nil {
		if err := model.ValidateTitle(*req.Title); err != nil {
			return nil, c.fail("update", validationError(err))
		}
		t := strings.TrimSpace(*req.Title)
		req.Title = &t
	}
	if req.Priority != nil && !req.Priority.Valid() {
		return nil, c.fail("update", invalidPriorityError())
	}

	old, _, ok := c.find(id)
	if !ok {
		return nil, c.fail("update", notFoundError(id))
	}

	if c.optimistic {
		c.commit(Replaced{Task: applyUpdate(old, req, c.now())})
	}

	task, err := c.api.Update(ctx, id, req)
	if err != nil {
		if c.optimistic {
			c.commit(Replaced{Task: old})
		}
		return nil, c.fail("update", err)
	}
	c.commit(Replaced{Task: *task})
	return task, nil
}

// Toggle は完了状態を反転する。
func (c *Controller) Toggle(ctx context.Context, id string) (*model.Task, error) {
	old, _, ok := c.find(id)
	if !ok {
		return nil, c.fail("toggle", notFoundError(id))
	}
	completed := !old.Completed
	return c.Update(ctx, id, UpdateRequest{Completed: &completed})
}

// Delete はタスクを削除する。
func (c *Controller) Delete(ctx context.Context, id string) error {
	old, idx, ok := c.find(id)
	if !ok {
		return c.fail("delete", notFoundError(id))
	}

	if c.optimistic {
		c.commit(Removed{ID: id})
	}

	if err := c.api.Delete(ctx, id); err != nil {
		if c.optimistic {
			c.commit(Inserted{Index: idx, Task: old})
		}
		return c.fail("delete", err)
	}
	if !c.optimistic {
		c.commit(Removed{ID: id})
	}
	return nil
}

// SetFilter は絞り込み条件を変更する。
func (c *Controller) SetFilter(f Filter) {
	c.commit(FilterChanged{Filter: f})
}

// SetSort は表示順を変更する。
func (c *Controller) SetSort(k SortKey) {
	c.commit(SortChanged{Sort: k})
}

// commit はActionを適用し、表示の差分をRendererへ渡す。
func (c *Controller) commit(a Action) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Reduce(c.state, a)
	next := Visible(c.state)
	patches := Diff(c.visible, next)
	c.visible = next
	if len(patches) > 0 {
		c.renderer.Render(patches, next)
	}
}

func (c *Controller) find(id string) (model.Task, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := indexOf(c.state.Tasks, id)
	if i < 0 {
		return model.Task{}, -1, false
	}
	return c.state.Tasks[i], i, true
}

// fail はエラーをログに記録して通知先へ渡し、そのまま返す。
func (c *Controller) fail(op string, err error) error {
	attrs := []any{slog.String("op", op), slog.String("error", err.Error())}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		attrs = append(attrs, slog.Int("status", apiErr.StatusCode))
	}
	c.logger.Warn("task operation failed", attrs...)
	c.reporter.Report(op, err)
	return err
}

func applyUpdate(t model.Task, req UpdateRequest, now time.Time) model.Task {
	if req.Title != nil {
		t.Title = *req.Title
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	if req.Completed != nil {
		t.Completed = *req.Completed
	}
	t.UpdatedAt = now
	return t
}

func validationError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fromAPIError(http.StatusBadRequest, apiErr)
	}
	return err
}

func emptyUpdateError() *Error {
	return fromAPIError(http.StatusBadRequest,
		model.NewValidationError("body", "更新する項目を指定してください"))
}

func invalidPriorityError() *Error {
	return fromAPIError(http.StatusBadRequest,
		model.NewValidationError("priority", "low, medium, high のいずれかを指定してください"))
}

func notFoundError(id string) *Error {
	return fromAPIError(http.StatusNotFound, model.NewTaskNotFoundError(id))
}
