// Package commonregister 测试和示例共用的模型与数据
package commonregister

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/blingmoon/netflow-triage/frame"
	"github.com/blingmoon/netflow-triage/model"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

const (
	LabelBenign     = "BENIGN"
	LabelAttack     = "ATTACK"
	LabelDoS        = "DOS_DDOS"
	LabelPortScan   = "PORTSCAN"
	LabelBruteForce = "BRUTE_FORCE"
)

// Features 测试使用的特征列表, 是 CICFlowMeter 特征的一个子集
var Features = []string{"Destination Port", "Flow Duration", "Total Fwd Packets", "Total Backward Packets"}

// NewBinaryForest Flow Duration > 1000 判定为 ATTACK
func NewBinaryForest() *model.Forest {
	f := &model.Forest{
		Kind:         model.KindDecisionTree,
		ClassLabels:  []string{LabelAttack, LabelBenign},
		NumFeatures:  len(Features),
		FeatureNames: Features,
		Importances:  []float64{0, 1, 0, 0},
		Trees: []model.Tree{{Nodes: []model.Node{
			{Feature: 1, Threshold: 1000, Left: 1, Right: 2},
			{Left: -1, Right: -1, Value: []float64{1, 9}},
			{Left: -1, Right: -1, Value: []float64{8, 2}},
		}}},
	}
	mustInit(f)
	return f
}

// NewMultiForest
// Total Fwd Packets > 100 -> DOS_DDOS
// 否则 Destination Port <= 1024 -> PORTSCAN, 其他 -> BRUTE_FORCE
func NewMultiForest() *model.Forest {
	f := &model.Forest{
		Kind:         model.KindRandomForest,
		ClassLabels:  []string{LabelBruteForce, LabelDoS, LabelPortScan},
		NumFeatures:  len(Features),
		FeatureNames: Features,
		Importances:  []float64{0.4, 0, 0.6, 0},
		Trees: []model.Tree{{Nodes: []model.Node{
			{Feature: 2, Threshold: 100, Left: 1, Right: 4},
			{Feature: 0, Threshold: 1024, Left: 2, Right: 3},
			{Left: -1, Right: -1, Value: []float64{0, 1, 3}},
			{Left: -1, Right: -1, Value: []float64{4, 0, 1}},
			{Left: -1, Right: -1, Value: []float64{0, 7, 0}},
		}}},
	}
	mustInit(f)
	return f
}

func mustInit(f *model.Forest) {
	if err := f.Init(); err != nil {
		panic(err)
	}
}

// WriteModelFiles 把两个模型写到 dir 下面, 返回文件路径
func WriteModelFiles(dir string) (string, string, error) {
	binaryPath := filepath.Join(dir, "binary_rf.json")
	multiPath := filepath.Join(dir, "multi_rf.json")
	for path, f := range map[string]*model.Forest{binaryPath: NewBinaryForest(), multiPath: NewMultiForest()} {
		b, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return "", "", errors.WithMessage(err, "marshal model failed")
		}
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return "", "", errors.WithMessagef(err, "write model failed, path: %s", path)
		}
	}
	return binaryPath, multiPath, nil
}

// BenignRow 正常流量
func BenignRow() map[string]any {
	return map[string]any{"Destination Port": 443, "Flow Duration": 120, "Total Fwd Packets": 3, "Total Backward Packets": 2}
}

// DoSRow 大量的前向包
func DoSRow() map[string]any {
	return map[string]any{"Destination Port": 80, "Flow Duration": 50000, "Total Fwd Packets": 5000, "Total Backward Packets": 0}
}

// PortScanRow 低端口, 包很少
func PortScanRow() map[string]any {
	return map[string]any{"Destination Port": 22, "Flow Duration": 2000, "Total Fwd Packets": 1, "Total Backward Packets": 1}
}

func BruteForceRow() map[string]any {
	return map[string]any{"Destination Port": 8080, "Flow Duration": 3000, "Total Fwd Packets": 20, "Total Backward Packets": 20}
}

// NewBatch 多条记录组成的表格, 列的顺序固定为 Features
func NewBatch(records ...map[string]any) *frame.Frame {
	rows := make([][]any, 0, len(records))
	for _, record := range records {
		row := make([]any, len(Features))
		for i, feature := range Features {
			row[i] = record[feature]
		}
		rows = append(rows, row)
	}
	f, err := frame.New(append([]string(nil), Features...), rows)
	if err != nil {
		panic(err)
	}
	return f
}

// FuncModel 用函数定义的模型, 概率是 one-hot
type FuncModel struct {
	ClassLabels []string
	Proba       bool
	Classify    func(row []float64) string
	Delay       func(row []float64) time.Duration
	calls       atomic.Int64
}

func (m *FuncModel) Calls() int64 {
	return m.calls.Load()
}

func (m *FuncModel) Predict(ctx context.Context, x *frame.Matrix) ([]string, error) {
	m.calls.Add(1)
	labels := make([]string, 0, len(x.Values))
	for _, row := range x.Values {
		if m.Delay != nil {
			time.Sleep(m.Delay(row))
		}
		labels = append(labels, m.Classify(row))
	}
	return labels, nil
}

func (m *FuncModel) PredictProba(ctx context.Context, x *frame.Matrix) ([][]float64, error) {
	if !m.Proba {
		return nil, errors.WithMessage(workflow.ErrModelUnsupportedOperation, "FuncModel has no proba")
	}
	labels, err := m.Predict(ctx, x)
	if err != nil {
		return nil, err
	}
	probs := make([][]float64, 0, len(labels))
	for _, label := range labels {
		p := make([]float64, len(m.ClassLabels))
		for j, class := range m.ClassLabels {
			if class == label {
				p[j] = 1
			}
		}
		probs = append(probs, p)
	}
	return probs, nil
}

func (m *FuncModel) Classes() []string {
	return m.ClassLabels
}

func (m *FuncModel) SupportsProba() bool {
	return m.Proba
}

var _ model.Model = (*FuncModel)(nil)
