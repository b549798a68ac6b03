package stages

import (
	"context"
	"log/slog"

	"github.com/blingmoon/netflow-triage/frame"
	"github.com/blingmoon/netflow-triage/model"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

// ClassifierResult 分类节点的输出
type ClassifierResult struct {
	Data          *frame.Matrix // 分类节点的输入, 下一个分类节点会继续使用
	Labels        []string
	Probabilities []float64 // 每行最大的类别概率, 只有 proba 模式才有
}

// FirstLabel 第一行的标签
func (r *ClassifierResult) FirstLabel() (string, bool) {
	if r == nil || len(r.Labels) == 0 {
		return "", false
	}
	return r.Labels[0], true
}

// FirstProbability 第一行的概率, predict 模式为 nil
func (r *ClassifierResult) FirstProbability() *float64 {
	if r == nil || len(r.Probabilities) == 0 {
		return nil
	}
	p := r.Probabilities[0]
	return &p
}

// Classifier 分类节点, 二分类和多分类都用这个
type Classifier struct {
	model  model.Model
	mode   string
	logger *slog.Logger
}

type ClassifierOption func(*Classifier)

// WithMode 默认 predict
func WithMode(mode string) ClassifierOption {
	return func(c *Classifier) {
		c.mode = mode
	}
}

func WithClassifierLogger(logger *slog.Logger) ClassifierOption {
	return func(c *Classifier) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClassifier(m model.Model, opts ...ClassifierOption) (*Classifier, error) {
	if m == nil {
		return nil, errors.WithMessage(workflow.ErrConfiguration, "NewClassifier failed, model is nil")
	}
	c := &Classifier{
		model:  m,
		mode:   workflow.ModePredict,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !workflow.IsSupportedMode(c.mode) {
		return nil, errors.WithMessagef(workflow.ErrUnsupportedMode, "NewClassifier failed, mode: %q", c.mode)
	}
	if c.mode == workflow.ModeProba && !m.SupportsProba() {
		return nil, errors.WithMessage(workflow.ErrModelUnsupportedOperation, "NewClassifier failed, model does not support proba")
	}
	return c, nil
}

func (c *Classifier) Mode() string {
	return c.mode
}

func (c *Classifier) Model() model.Model {
	return c.model
}

// Process 接受 *frame.Matrix 或者上一个分类节点的 *ClassifierResult
// ctx 上通过 workflow.WithMode 设置的模式优先
func (c *Classifier) Process(ctx context.Context, data any) (any, error) {
	mode := c.mode
	if override, ok := workflow.ModeFromContext(ctx); ok {
		mode = override
	}
	if !workflow.IsSupportedMode(mode) {
		return nil, errors.WithMessagef(workflow.ErrUnsupportedMode, "mode: %q", mode)
	}

	var x *frame.Matrix
	switch d := data.(type) {
	case *frame.Matrix:
		x = d
	case *ClassifierResult:
		if d != nil {
			x = d.Data
		}
	}
	if x == nil {
		return nil, errors.WithMessagef(workflow.ErrInvalidShape, "input has no row/column shape: %T", data)
	}

	logger := workflow.LoggerFromContext(ctx, c.logger)
	result := &ClassifierResult{Data: x}
	switch mode {
	case workflow.ModePredict:
		labels, err := c.model.Predict(ctx, x)
		if err != nil {
			return nil, errors.WithMessage(err, "predict failed")
		}
		result.Labels = labels
	case workflow.ModeProba:
		if !c.model.SupportsProba() {
			return nil, errors.WithMessage(workflow.ErrModelUnsupportedOperation, "model does not support proba")
		}
		probs, err := c.model.PredictProba(ctx, x)
		if err != nil {
			return nil, errors.WithMessage(err, "predict_proba failed")
		}
		classes := c.model.Classes()
		result.Labels = make([]string, 0, len(probs))
		result.Probabilities = make([]float64, 0, len(probs))
		for i, p := range probs {
			if len(p) != len(classes) || len(p) == 0 {
				return nil, errors.WithMessagef(workflow.ErrInvalidShape, "row %d has %d probabilities for %d classes", i, len(p), len(classes))
			}
			best := model.ArgMax(p)
			result.Labels = append(result.Labels, classes[best])
			result.Probabilities = append(result.Probabilities, p[best])
		}
	}
	logger.DebugContext(ctx, "classified", "mode", mode, "labels", result.Labels)
	return result, nil
}
