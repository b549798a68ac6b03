package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/blingmoon/netflow-triage/frame"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

const (
	KindRandomForest = "random_forest"
	KindDecisionTree = "decision_tree"

	leafIndex = -1
)

// Node 树节点, 和 sklearn tree_ 的数组结构一致
// 叶子节点 Left == Right == -1, Value 是各个类别的样本数或者占比
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
}

func (n *Node) isLeaf() bool {
	return n.Left == leafIndex
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest 从 sklearn 导出的树模型, 支持随机森林和单棵决策树
type Forest struct {
	Kind               string    `json:"type"`
	ClassLabels        []string  `json:"classes"`
	NumFeatures        int       `json:"n_features"`
	FeatureNames       []string  `json:"feature_names,omitempty"`
	Importances        []float64 `json:"feature_importances,omitempty"`
	ProbaSupported     *bool     `json:"supports_proba,omitempty"` // 不填默认支持
	Trees              []Tree    `json:"trees"`
	normalizedLeafProb [][][]float64
}

// LoadFile 读取 json 格式的模型文件
func LoadFile(path string) (*Forest, error) {
	if path == "" {
		return nil, errors.WithMessage(workflow.ErrModelLoad, "model path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessagef(workflow.ErrModelLoad, "read model file failed, path: %s, err: %v", path, err)
	}
	f, err := Parse(b)
	if err != nil {
		return nil, errors.WithMessagef(err, "LoadFile failed, path: %s", path)
	}
	return f, nil
}

// Parse 解析模型 json
func Parse(b []byte) (*Forest, error) {
	f := &Forest{}
	if err := json.Unmarshal(b, f); err != nil {
		return nil, errors.WithMessagef(workflow.ErrModelLoad, "unmarshal model failed, err: %v", err)
	}
	if err := f.Init(); err != nil {
		return nil, err
	}
	return f, nil
}

// Init 检查结构并且预先计算叶子节点的概率, 直接构造 Forest 的时候需要调用
func (f *Forest) Init() error {
	if f.Kind == "" {
		f.Kind = KindRandomForest
	}
	if f.Kind != KindRandomForest && f.Kind != KindDecisionTree {
		return errors.WithMessagef(workflow.ErrModelLoad, "unsupported model type: %s", f.Kind)
	}
	if len(f.ClassLabels) == 0 {
		return errors.WithMessage(workflow.ErrModelLoad, "classes is empty")
	}
	if f.NumFeatures <= 0 {
		return errors.WithMessagef(workflow.ErrModelLoad, "n_features must be positive, got %d", f.NumFeatures)
	}
	if len(f.FeatureNames) != 0 && len(f.FeatureNames) != f.NumFeatures {
		return errors.WithMessagef(workflow.ErrModelLoad, "feature_names has %d names, n_features is %d", len(f.FeatureNames), f.NumFeatures)
	}
	if len(f.Importances) != 0 && len(f.Importances) != f.NumFeatures {
		return errors.WithMessagef(workflow.ErrModelLoad, "feature_importances has %d values, n_features is %d", len(f.Importances), f.NumFeatures)
	}
	if len(f.Trees) == 0 {
		return errors.WithMessage(workflow.ErrModelLoad, "model has no tree")
	}
	if f.Kind == KindDecisionTree && len(f.Trees) != 1 {
		return errors.WithMessagef(workflow.ErrModelLoad, "decision_tree must have exactly one tree, got %d", len(f.Trees))
	}
	leafProb := make([][][]float64, len(f.Trees))
	for t := range f.Trees {
		probs, err := f.checkTree(&f.Trees[t])
		if err != nil {
			return errors.WithMessagef(workflow.ErrModelLoad, "tree %d is invalid, err: %v", t, err)
		}
		leafProb[t] = probs
	}
	f.normalizedLeafProb = leafProb
	return nil
}

// checkTree 子节点下标必须比父节点大, 保证遍历一定会结束
func (f *Forest) checkTree(tree *Tree) ([][]float64, error) {
	if len(tree.Nodes) == 0 {
		return nil, errors.New("tree has no node")
	}
	probs := make([][]float64, len(tree.Nodes))
	for i := range tree.Nodes {
		node := &tree.Nodes[i]
		if node.isLeaf() {
			if node.Right != leafIndex {
				return nil, errors.Errorf("node %d: leaf must have right = -1", i)
			}
			if len(node.Value) != len(f.ClassLabels) {
				return nil, errors.Errorf("node %d: leaf value has %d entries, want %d", i, len(node.Value), len(f.ClassLabels))
			}
			sum := 0.0
			for _, v := range node.Value {
				if v < 0 {
					return nil, errors.Errorf("node %d: negative leaf value", i)
				}
				sum += v
			}
			if sum <= 0 {
				return nil, errors.Errorf("node %d: leaf value sums to zero", i)
			}
			prob := make([]float64, len(node.Value))
			for j, v := range node.Value {
				prob[j] = v / sum
			}
			probs[i] = prob
			continue
		}
		if node.Feature < 0 || node.Feature >= f.NumFeatures {
			return nil, errors.Errorf("node %d: feature %d out of range", i, node.Feature)
		}
		for _, child := range []int{node.Left, node.Right} {
			if child <= i || child >= len(tree.Nodes) {
				return nil, errors.Errorf("node %d: child %d out of range", i, child)
			}
		}
	}
	return probs, nil
}

func (f *Forest) Classes() []string {
	ret := make([]string, len(f.ClassLabels))
	copy(ret, f.ClassLabels)
	return ret
}

func (f *Forest) FeatureSchema() (int, []string) {
	return f.NumFeatures, f.FeatureNames
}

func (f *Forest) SupportsProba() bool {
	return f.ProbaSupported == nil || *f.ProbaSupported
}

func (f *Forest) checkInput(x *frame.Matrix) error {
	if x == nil {
		return errors.WithMessage(workflow.ErrInvalidShape, "input matrix is nil")
	}
	if f.normalizedLeafProb == nil {
		return errors.WithMessage(workflow.ErrModelLoad, "model is not initialized")
	}
	_, cols := x.Shape()
	if cols != f.NumFeatures {
		return errors.WithMessagef(workflow.ErrInvalidShape, "model expects %d features, got %d", f.NumFeatures, cols)
	}
	for i, row := range x.Values {
		if len(row) != cols {
			return errors.WithMessagef(workflow.ErrInvalidShape, "row %d has %d values, want %d", i, len(row), cols)
		}
	}
	return nil
}

func (f *Forest) leaf(t int, row []float64) int {
	nodes := f.Trees[t].Nodes
	i := 0
	for !nodes[i].isLeaf() {
		if row[nodes[i].Feature] <= nodes[i].Threshold {
			i = nodes[i].Left
		} else {
			i = nodes[i].Right
		}
	}
	return i
}

// proba 每棵树叶子节点概率的平均值
func (f *Forest) proba(x *frame.Matrix) [][]float64 {
	ret := make([][]float64, len(x.Values))
	for i, row := range x.Values {
		p := make([]float64, len(f.ClassLabels))
		for t := range f.Trees {
			for j, v := range f.normalizedLeafProb[t][f.leaf(t, row)] {
				p[j] += v
			}
		}
		for j := range p {
			p[j] /= float64(len(f.Trees))
		}
		ret[i] = p
	}
	return ret
}

func (f *Forest) Predict(ctx context.Context, x *frame.Matrix) ([]string, error) {
	if err := f.checkInput(x); err != nil {
		return nil, errors.WithMessage(err, "Forest.Predict failed")
	}
	probs := f.proba(x)
	labels := make([]string, len(probs))
	for i, p := range probs {
		labels[i] = f.ClassLabels[ArgMax(p)]
	}
	return labels, nil
}

func (f *Forest) PredictProba(ctx context.Context, x *frame.Matrix) ([][]float64, error) {
	if !f.SupportsProba() {
		return nil, errors.WithMessage(workflow.ErrModelUnsupportedOperation, "model does not support predict_proba")
	}
	if err := f.checkInput(x); err != nil {
		return nil, errors.WithMessage(err, "Forest.PredictProba failed")
	}
	return f.proba(x), nil
}

// FeatureImportances 特征重要性, names 为空的时候使用模型里面的特征名, 再没有就用 feature_i
func (f *Forest) FeatureImportances(names []string) (map[string]float64, error) {
	if len(f.Importances) == 0 {
		return nil, errors.WithMessage(workflow.ErrModelUnsupportedOperation, "model has no feature_importances")
	}
	if len(names) == 0 {
		names = f.featureNames()
	}
	if len(names) != len(f.Importances) {
		return nil, errors.WithMessagef(workflow.ErrInvalidShape, "got %d names for %d importances", len(names), len(f.Importances))
	}
	ret := make(map[string]float64, len(names))
	for i, name := range names {
		ret[name] = f.Importances[i]
	}
	return ret, nil
}

func (f *Forest) featureNames() []string {
	if len(f.FeatureNames) == f.NumFeatures {
		return f.FeatureNames
	}
	names := make([]string, f.NumFeatures)
	for i := range names {
		names[i] = fmt.Sprintf("feature_%d", i)
	}
	return names
}

// ExportText 文本形式输出一棵树, 格式和 sklearn export_text 类似
func (f *Forest) ExportText(treeIndex int, names []string, maxDepth int) (string, error) {
	if treeIndex < 0 || treeIndex >= len(f.Trees) {
		return "", errors.Errorf("tree index %d out of range [0, %d)", treeIndex, len(f.Trees))
	}
	if len(names) == 0 {
		names = f.featureNames()
	}
	if len(names) != f.NumFeatures {
		return "", errors.WithMessagef(workflow.ErrInvalidShape, "got %d names for %d features", len(names), f.NumFeatures)
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}
	sb := &strings.Builder{}
	f.exportNode(sb, &f.Trees[treeIndex], 0, 0, names, maxDepth, treeIndex)
	return sb.String(), nil
}

func (f *Forest) exportNode(sb *strings.Builder, tree *Tree, i int, depth int, names []string, maxDepth int, t int) {
	indent := strings.Repeat("|   ", depth) + "|--- "
	node := &tree.Nodes[i]
	if node.isLeaf() {
		fmt.Fprintf(sb, "%sclass: %s\n", indent, f.ClassLabels[ArgMax(f.normalizedLeafProb[t][i])])
		return
	}
	if depth >= maxDepth {
		fmt.Fprintf(sb, "%struncated branch of depth %d\n", indent, subtreeDepth(tree, i))
		return
	}
	fmt.Fprintf(sb, "%s%s <= %.2f\n", indent, names[node.Feature], node.Threshold)
	f.exportNode(sb, tree, node.Left, depth+1, names, maxDepth, t)
	fmt.Fprintf(sb, "%s%s >  %.2f\n", indent, names[node.Feature], node.Threshold)
	f.exportNode(sb, tree, node.Right, depth+1, names, maxDepth, t)
}

func subtreeDepth(tree *Tree, i int) int {
	node := &tree.Nodes[i]
	if node.isLeaf() {
		return 0
	}
	return 1 + max(subtreeDepth(tree, node.Left), subtreeDepth(tree, node.Right))
}

// Describe 模型概要, 给 inspect 命令使用
func (f *Forest) Describe() string {
	nodes := 0
	for _, tree := range f.Trees {
		nodes += len(tree.Nodes)
	}
	return fmt.Sprintf("%s, %d trees, %d nodes, %d features, classes=%v, proba=%t",
		f.Kind, len(f.Trees), nodes, f.NumFeatures, f.ClassLabels, f.SupportsProba())
}

var (
	_ Model           = (*Forest)(nil)
	_ FeatureImporter = (*Forest)(nil)
)
