package client

import (
	"slices"

	"github.com/hitoshi/todoman/internal/model"
)

// PatchOp はPatchの種類。
type PatchOp string

const (
	PatchInsert PatchOp = "insert"
	PatchUpdate PatchOp = "update"
	PatchRemove PatchOp = "remove"
	PatchMove   PatchOp = "move"
)

// Patch は表示中の一覧に対する1件分の変更。
//
//   - insert: Indexの位置にTaskを挿入する
//   - update: IDの要素をTaskで置き換える（位置は変えない）
//   - remove: IDの要素を取り除く
//   - move: IDの要素をFromからIndexへ移動する
//
// Indexは直前までのPatchを適用した後の一覧に対する位置。
type Patch struct {
	Op    PatchOp
	ID    string
	Index int
	From  int
	Task  model.Task
}

// Diff はprevをnextに変換するPatch列を返す。
// 削除を先に出力し、その後nextの先頭から順に位置と内容を合わせる。
func Diff(prev, next []model.Task) []Patch {
	var patches []Patch

	keep := make(map[string]struct{}, len(next))
	for _, t := range next {
		keep[t.ID] = struct{}{}
	}

	work := make([]model.Task, 0, len(prev))
	for _, t := range prev {
		if _, ok := keep[t.ID]; !ok {
			patches = append(patches, Patch{Op: PatchRemove, ID: t.ID})
			continue
		}
		work = append(work, t)
	}

	for i, t := range next {
		if i < len(work) && work[i].ID == t.ID {
			if !sameTask(work[i], t) {
				patches = append(patches, Patch{Op: PatchUpdate, ID: t.ID, Index: i, Task: t})
				work[i] = t
			}
			continue
		}

		j := indexOf(work, t.ID)
		if j < 0 {
			patches = append(patches, Patch{Op: PatchInsert, ID: t.ID, Index: i, Task: t})
			work = slices.Insert(work, i, t)
			continue
		}

		moved := work[j]
		work = slices.Delete(work, j, j+1)
		work = slices.Insert(work, i, moved)
		patches = append(patches, Patch{Op: PatchMove, ID: t.ID, Index: i, From: j})
		if !sameTask(moved, t) {
			patches = append(patches, Patch{Op: PatchUpdate, ID: t.ID, Index: i, Task: t})
			work[i] = t
		}
	}

	return patches
}

// Apply はPatch列をlistに適用した新しい一覧を返す。listは変更しない。
func Apply(list []model.Task, patches []Patch) []model.Task {
	out := slices.Clone(list)
	for _, p := range patches {
		switch p.Op {
		case PatchInsert:
			idx := min(max(p.Index, 0), len(out))
			out = slices.Insert(out, idx, p.Task)
		case PatchUpdate:
			if i := indexOf(out, p.ID); i >= 0 {
				out[i] = p.Task
			}
		case PatchRemove:
			if i := indexOf(out, p.ID); i >= 0 {
				out = slices.Delete(out, i, i+1)
			}
		case PatchMove:
			i := indexOf(out, p.ID)
			if i < 0 {
				continue
			}
			t := out[i]
			out = slices.Delete(out, i, i+1)
			idx := min(max(p.Index, 0), len(out))
			out = slices.Insert(out, idx, t)
		}
	}
	if out == nil {
		out = []model.Task{}
	}
	return out
}

func sameTask(a, b model.Task) bool {
	return a.ID == b.ID &&
		a.UserID == b.UserID &&
		a.Title == b.Title &&
		a.Priority == b.Priority &&
		a.Completed == b.Completed &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
