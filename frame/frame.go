// Package frame 行列结构的表格数据, 以及校验之后给模型使用的数值矩阵
package frame

import (
	"sort"

	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

// Frame 原始表格, 值保持读入时候的类型, 由 stages.Validator 做类型转换
type Frame struct {
	Columns []string
	Rows    [][]any
}

// New 创建表格, 每一行的宽度必须和列数一致
func New(columns []string, rows [][]any) (*Frame, error) {
	seen := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		if _, ok := seen[column]; ok {
			return nil, errors.WithMessagef(workflow.ErrInvalidShape, "duplicate column: %s", column)
		}
		seen[column] = struct{}{}
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, errors.WithMessagef(workflow.ErrInvalidShape, "row %d has %d values, want %d", i, len(row), len(columns))
		}
	}
	if rows == nil {
		rows = make([][]any, 0)
	}
	return &Frame{Columns: columns, Rows: rows}, nil
}

// FromRecords 多条 key/value 记录转成表格
// 列是所有记录 key 的并集, 按第一次出现的顺序, 同一条记录内部按 key 排序; 缺失的值为 nil
func FromRecords(records []map[string]any) *Frame {
	columns := make([]string, 0)
	index := make(map[string]int)
	for _, record := range records {
		keys := make([]string, 0, len(record))
		for k := range record {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, ok := index[k]; !ok {
				index[k] = len(columns)
				columns = append(columns, k)
			}
		}
	}
	rows := make([][]any, 0, len(records))
	for _, record := range records {
		row := make([]any, len(columns))
		for k, v := range record {
			row[index[k]] = v
		}
		rows = append(rows, row)
	}
	return &Frame{Columns: columns, Rows: rows}
}

// FromJSONContexts 多条 JSONContext 记录转成表格
func FromJSONContexts(records []*workflow.JSONContext) *Frame {
	maps := make([]map[string]any, 0, len(records))
	for _, record := range records {
		maps = append(maps, record.ToMap())
	}
	return FromRecords(maps)
}

func (f *Frame) NumRows() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Shape 行数, 列数
func (f *Frame) Shape() (int, int) {
	if f == nil {
		return 0, 0
	}
	return len(f.Rows), len(f.Columns)
}

// Row 第 i 行组成的单行表格, 行数据是拷贝, 不会和原表格共享
func (f *Frame) Row(i int) (*Frame, error) {
	if i < 0 || i >= f.NumRows() {
		return nil, errors.WithMessagef(workflow.ErrInvalidShape, "row index %d out of range [0, %d)", i, f.NumRows())
	}
	row := make([]any, len(f.Rows[i]))
	copy(row, f.Rows[i])
	columns := make([]string, len(f.Columns))
	copy(columns, f.Columns)
	return &Frame{Columns: columns, Rows: [][]any{row}}, nil
}

// Split 拆成单行表格
func (f *Frame) Split() []*Frame {
	ret := make([]*Frame, 0, f.NumRows())
	for i := 0; i < f.NumRows(); i++ {
		row, _ := f.Row(i)
		ret = append(ret, row)
	}
	return ret
}

// Column 列的位置, 不存在返回 -1
func (f *Frame) Column(name string) int {
	if f == nil {
		return -1
	}
	for i, column := range f.Columns {
		if column == name {
			return i
		}
	}
	return -1
}
