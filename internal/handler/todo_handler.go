package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/todo"
)

// TodoServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TodoServiceInterface interface {
	List(ctx context.Context, userID string) ([]*model.Task, error)
	Create(ctx context.Context, userID string, in todo.CreateInput) (*model.Task, error)
	Update(ctx context.Context, userID, taskID string, in todo.UpdateInput) (*model.Task, error)
	Delete(ctx context.Context, userID, taskID string) error
	Stats(ctx context.Context, userID string) (*model.TaskStats, error)
}

// TodoHandler はタスク管理のHTTPハンドラー。
// 所有者は常にAuthGuardが解決したユーザーIDを使い、ボディのuser_idは参照しない。
type TodoHandler struct {
	service TodoServiceInterface
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(service TodoServiceInterface) *TodoHandler {
	return &TodoHandler{service: service}
}

type createTodoRequest struct {
	Title    string `json:"title"`
	Priority string `json:"priority"`
}

// updateTodoRequest は部分更新のリクエスト。省略された項目はnilになる。
type updateTodoRequest struct {
	Title     *string `json:"title"`
	Priority  *string `json:"priority"`
	Completed *bool   `json:"completed"`
}

// List はタスク一覧を返す。タスクがない場合も空配列を返す。
// GET /todos
func (h *TodoHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	tasks, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}

	writeJSON(w, http.StatusOK, tasks)
}

// Create はタスクを作成する。
// POST /todos
func (h *TodoHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createTodoRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	task, err := h.service.Create(r.Context(), userID, todo.CreateInput{
		Title:    req.Title,
		Priority: req.Priority,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// Update はタスクを部分更新する。
// PUT /todos/{id}
func (h *TodoHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	taskID := chi.URLParam(r, "id")

	var req updateTodoRequest
	if apiErr := decodeJSON(w, r, &req); apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	task, err := h.service.Update(r.Context(), userID, taskID, todo.UpdateInput{
		Title:     req.Title,
		Priority:  req.Priority,
		Completed: req.Completed,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// Delete はタスクを削除する。
// DELETE /todos/{id}
func (h *TodoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "タスクを削除しました。"})
}

// Stats はタスクの集計値を返す。
// GET /todos/stats
func (h *TodoHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// requireUserID はコンテキストからユーザーIDを取り出す。取り出せない場合は401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// compile-time interface check
var _ TodoServiceInterface = (*todo.Service)(nil)
