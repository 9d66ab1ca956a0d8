package client

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hitoshi/todoman/internal/model"
)

// Filter は表示するタスクの絞り込み条件。
type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
)

// ParseFilter は文字列をFilterに変換する。
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(s)); f {
	case FilterAll, FilterActive, FilterCompleted:
		return f, nil
	case "":
		return FilterAll, nil
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

// SortKey は表示順の基準。
type SortKey string

const (
	SortByDate     SortKey = "date"
	SortByPriority SortKey = "priority"
	SortByTitle    SortKey = "title"
)

// ParseSortKey は文字列をSortKeyに変換する。
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(s)); k {
	case SortByDate, SortByPriority, SortByTitle:
		return k, nil
	case "":
		return SortByDate, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// State はクライアント側で保持するタスク一覧のミラーと表示条件。
// Reduceは常に新しいStateを返し、引数のStateを変更しない。
type State struct {
	Tasks  []model.Task
	Filter Filter
	Sort   SortKey
}

// NewState は初期状態を返す。
func NewState() State {
	return State{Tasks: []model.Task{}, Filter: FilterAll, Sort: SortByDate}
}

// Action はStateへの変更を表す。
type Action interface {
	apply(s State) State
}

// Loaded はサーバーから取得した一覧でミラーを置き換える。
type Loaded struct{ Tasks []model.Task }

// Inserted はIndexの位置にタスクを挿入する。Indexが範囲外の場合は末尾に追加する。
type Inserted struct {
	Index int
	Task  model.Task
}

// Replaced は同じIDのタスクを置き換える。存在しない場合は何もしない。
type Replaced struct {
	ID   string // 置き換え対象のID。楽観的作成の仮IDを正式IDに差し替える場合に使う
	Task model.Task
}

// Removed は指定IDのタスクを取り除く。
type Removed struct{ ID string }

// FilterChanged は絞り込み条件を変更する。
type FilterChanged struct{ Filter Filter }

// SortChanged は表示順を変更する。
type SortChanged struct{ Sort SortKey }

// Reduce はActionを適用した新しいStateを返す。
func Reduce(s State, a Action) State {
	return a.apply(s)
}

func (a Loaded) apply(s State) State {
	s.Tasks = slices.Clone(a.Tasks)
	if s.Tasks == nil {
		s.Tasks = []model.Task{}
	}
	return s
}

func (a Inserted) apply(s State) State {
	idx := a.Index
	if idx < 0 || idx > len(s.Tasks) {
		idx = len(s.Tasks)
	}
	s.Tasks = slices.Insert(slices.Clone(s.Tasks), idx, a.Task)
	return s
}

func (a Replaced) apply(s State) State {
	id := a.ID
	if id == "" {
		id = a.Task.ID
	}
	i := indexOf(s.Tasks, id)
	if i < 0 {
		return s
	}
	tasks := slices.Clone(s.Tasks)
	tasks[i] = a.Task
	s.Tasks = tasks
	return s
}

func (a Removed) apply(s State) State {
	i := indexOf(s.Tasks, a.ID)
	if i < 0 {
		return s
	}
	s.Tasks = slices.Delete(slices.Clone(s.Tasks), i, i+1)
	return s
}

func (a FilterChanged) apply(s State) State {
	s.Filter = a.Filter
	return s
}

func (a SortChanged) apply(s State) State {
	s.Sort = a.Sort
	return s
}

func indexOf(tasks []model.Task, id string) int {
	return slices.IndexFunc(tasks, func(t model.Task) bool { return t.ID == id })
}
