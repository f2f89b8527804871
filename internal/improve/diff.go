package improve

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/rcliao/live-meeting/internal/model"
)

// Diff operation names stored in model.DiffOp.
const (
	OpEqual  = "equal"
	OpInsert = "insert"
	OpDelete = "delete"
)

// Diff computes a word-friendly structured diff from original to improved.
func Diff(original, improved string) []model.DiffOp {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, improved, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	ops := make([]model.DiffOp, 0, len(diffs))
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		var op string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = OpInsert
		case diffmatchpatch.DiffDelete:
			op = OpDelete
		default:
			op = OpEqual
		}
		ops = append(ops, model.DiffOp{Op: op, Text: d.Text})
	}
	return ops
}

// Render formats a diff for terminals and logs: [-removed-]{+added+}.
func Render(ops []model.DiffOp) string {
	var b strings.Builder
	for _, op := range ops {
		switch op.Op {
		case OpInsert:
			b.WriteString("{+" + op.Text + "+}")
		case OpDelete:
			b.WriteString("[-" + op.Text + "-]")
		default:
			b.WriteString(op.Text)
		}
	}
	return b.String()
}
