package frame

import (
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

// Matrix 校验之后的数值矩阵, 列和配置的特征列表完全一致
type Matrix struct {
	Columns     []string
	Values      [][]float64
	Synthesized []string // 输入里面没有, 补 0 的列
}

// NewMatrix 每一行的宽度必须和列数一致
func NewMatrix(columns []string, values [][]float64) (*Matrix, error) {
	for i, row := range values {
		if len(row) != len(columns) {
			return nil, errors.WithMessagef(workflow.ErrInvalidShape, "matrix row %d has %d values, want %d", i, len(row), len(columns))
		}
	}
	return &Matrix{Columns: columns, Values: values}, nil
}

// Shape 行数, 列数
func (m *Matrix) Shape() (int, int) {
	if m == nil {
		return 0, 0
	}
	return len(m.Values), len(m.Columns)
}

// Row 第 i 行, 返回的是引用
func (m *Matrix) Row(i int) []float64 {
	return m.Values[i]
}
