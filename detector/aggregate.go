package detector

import (
	"github.com/blingmoon/netflow-triage/workflow"
)

// RowResult 一行的结果
type RowResult struct {
	Index int
	Label string
	// Probability predict 模式或者失败时为 nil
	Probability *float64
	Terminal    workflow.Terminal
	Path        []string
	// Synthesized 输入里缺失, 用 0 补上的特征
	Synthesized []string
	Err         error
}

func (r *RowResult) Failed() bool {
	return r.Err != nil
}

// BatchResult 和输入的行一一对应
type BatchResult struct {
	BatchID string
	Rows    []RowResult
}

// Labels 失败的行为空字符串
func (b *BatchResult) Labels() []string {
	labels := make([]string, len(b.Rows))
	for i := range b.Rows {
		labels[i] = b.Rows[i].Label
	}
	return labels
}

func (b *BatchResult) Probabilities() []*float64 {
	probs := make([]*float64, len(b.Rows))
	for i := range b.Rows {
		probs[i] = b.Rows[i].Probability
	}
	return probs
}

// Errors key 是行号
func (b *BatchResult) Errors() map[int]error {
	errs := make(map[int]error)
	for i := range b.Rows {
		if b.Rows[i].Err != nil {
			errs[b.Rows[i].Index] = b.Rows[i].Err
		}
	}
	return errs
}

func (b *BatchResult) Terminals() []workflow.Terminal {
	terminals := make([]workflow.Terminal, len(b.Rows))
	for i := range b.Rows {
		terminals[i] = b.Rows[i].Terminal
	}
	return terminals
}

// Failed 失败的行号, 升序
func (b *BatchResult) Failed() []int {
	failed := make([]int, 0)
	for i := range b.Rows {
		if b.Rows[i].Failed() {
			failed = append(failed, b.Rows[i].Index)
		}
	}
	return failed
}

func (b *BatchResult) countTerminal(terminal workflow.Terminal) int {
	n := 0
	for i := range b.Rows {
		if b.Rows[i].Terminal == terminal {
			n++
		}
	}
	return n
}
