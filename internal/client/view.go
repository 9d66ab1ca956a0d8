package client

import (
	"slices"
	"strings"

	"github.com/hitoshi/todoman/internal/model"
)

// Visible は表示するタスクを返す。絞り込みを先に行い、その後に安定ソートする。
//
//   - date: 作成日時の降順
//   - priority: high, medium, low の順
//   - title: バイト列としての辞書順（大文字小文字を区別）
func Visible(s State) []model.Task {
	out := make([]model.Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		switch s.Filter {
		case FilterActive:
			if t.Completed {
				continue
			}
		case FilterCompleted:
			if !t.Completed {
				continue
			}
		}
		out = append(out, t)
	}

	switch s.Sort {
	case SortByPriority:
		slices.SortStableFunc(out, func(a, b model.Task) int {
			return a.Priority.Rank() - b.Priority.Rank()
		})
	case SortByTitle:
		slices.SortStableFunc(out, func(a, b model.Task) int {
			return strings.Compare(a.Title, b.Title)
		})
	default:
		slices.SortStableFunc(out, func(a, b model.Task) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	}
	return out
}

// Stats はミラー全体（絞り込み前）の集計値を返す。
func Stats(s State) model.TaskStats {
	ptrs := make([]*model.Task, len(s.Tasks))
	for i := range s.Tasks {
		ptrs[i] = &s.Tasks[i]
	}
	return model.ComputeStats(ptrs)
}
