package tests

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/blingmoon/netflow-triage/frame"
	"github.com/blingmoon/netflow-triage/stages"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJSONContextToMatrix 请求里的 JSON 记录经过校验节点变成特征矩阵
func TestJSONContextToMatrix(t *testing.T) {
	body := `{"data":[
		{"Flow Duration": 1200, "Total Fwd Packets": "7", "Extra": "dropped"},
		{"Flow Duration": -5, "Total Fwd Packets": "NaN"},
		{"Total Fwd Packets": 1e400}
	]}`
	records, err := workflow.ParseJSONContexts([]byte(body))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, json.Number("1200"), records[0].ToMap()["Flow Duration"])

	batch := frame.FromJSONContexts(records)
	assert.Equal(t, 3, batch.NumRows())

	validator, err := stages.NewValidator([]string{"Flow Duration", "Total Fwd Packets", "Destination Port"})
	require.NoError(t, err)
	out, err := validator.Process(context.Background(), batch)
	require.NoError(t, err)
	m, ok := out.(*frame.Matrix)
	require.True(t, ok)

	assert.Equal(t, []string{"Flow Duration", "Total Fwd Packets", "Destination Port"}, m.Columns)
	assert.Equal(t, []string{"Destination Port"}, m.Synthesized)
	assert.Equal(t, []float64{1200, 7, 0}, m.Values[0])
	// 负数截断, NaN 变成 0
	assert.Equal(t, []float64{0, 0, 0}, m.Values[1])
	// 超出范围的数字转换失败, 变成 0
	assert.Equal(t, []float64{0, 0, 0}, m.Values[2])
}

// TestJSONContextSingleRecord 单条记录可以直接作为输入
func TestJSONContextSingleRecord(t *testing.T) {
	record, err := workflow.NewJSONContext([]byte(`{"a": 1, "b": -2}`))
	require.NoError(t, err)
	assert.Equal(t, 2, record.Len())

	validator, err := stages.NewValidator([]string{"b", "c"}, stages.WithClampNegatives(false))
	require.NoError(t, err)
	out, err := validator.Process(context.Background(), record)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{-2, 0}}, out.(*frame.Matrix).Values)
	assert.Equal(t, []string{"c"}, out.(*frame.Matrix).Synthesized)

	_, err = workflow.NewJSONContext([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, workflow.ErrInvalidShape)

	_, err = validator.Process(context.Background(), 42)
	assert.ErrorIs(t, err, workflow.ErrUnsupportedInputKind)
}
