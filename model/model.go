// Package model 预测模型资源, 模型只读, 可以被多个 goroutine 并发使用
package model

import (
	"context"

	"github.com/blingmoon/netflow-triage/frame"
)

// Model 分类模型
type Model interface {
	/**
	 * @description: 预测标签
	 * @param ctx context.Context
	 * @param x *frame.Matrix 列必须和训练时候的特征一致
	 * @return []string 每行一个标签
	 */
	Predict(ctx context.Context, x *frame.Matrix) ([]string, error)
	/**
	 * @description: 预测每个类别的概率, 列的顺序和 Classes() 一致
	 *				 SupportsProba() 为 false 的时候返回 ErrModelUnsupportedOperation
	 * @param ctx context.Context
	 * @param x *frame.Matrix
	 * @return [][]float64 shape (rows, len(Classes()))
	 */
	PredictProba(ctx context.Context, x *frame.Matrix) ([][]float64, error)
	Classes() []string
	SupportsProba() bool
}

// FeatureImporter 可以输出特征重要性的模型
type FeatureImporter interface {
	FeatureImportances(names []string) (map[string]float64, error)
}

// FeatureSchema 记录了训练特征的模型, names 可以为空
type FeatureSchema interface {
	FeatureSchema() (count int, names []string)
}

// ArgMax 最大值的位置, 相同的时候取第一个
func ArgMax(values []float64) int {
	best := -1
	for i, v := range values {
		if best == -1 || v > values[best] {
			best = i
		}
	}
	return best
}
