package model

import "math"

// TaskStats はタスク一覧の集計値。
type TaskStats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Active         int `json:"active"`
	HighPriority   int `json:"high_priority"`   // 未完了の高優先度タスク数
	CompletionRate int `json:"completion_rate"` // 完了率（%、四捨五入）
}

// ComputeStats はタスク一覧から集計値を計算する。
func ComputeStats(tasks []*Task) TaskStats {
	var s TaskStats
	for _, t := range tasks {
		s.Total++
		if t.Completed {
			s.Completed++
			continue
		}
		if t.Priority == PriorityHigh {
			s.HighPriority++
		}
	}
	s.Active = s.Total - s.Completed
	if s.Total > 0 {
		s.CompletionRate = int(math.Round(float64(s.Completed) * 100 / float64(s.Total)))
	}
	return s
}
