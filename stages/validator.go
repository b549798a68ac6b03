package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/blingmoon/netflow-triage/frame"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

// Validator 输入校验节点, 把各种输入转成只包含特征列的数值矩阵
type Validator struct {
	features       []string
	clampNegatives bool
	logger         *slog.Logger
}

type ValidatorOption func(*Validator)

// WithClampNegatives 负数是否置 0, 默认置 0
func WithClampNegatives(clamp bool) ValidatorOption {
	return func(v *Validator) {
		v.clampNegatives = clamp
	}
}

func WithValidatorLogger(logger *slog.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator features 为空或者有重复的时候返回 ErrConfiguration
func NewValidator(features []string, opts ...ValidatorOption) (*Validator, error) {
	if len(features) == 0 {
		return nil, errors.WithMessage(workflow.ErrConfiguration, "NewValidator failed, feature list is empty")
	}
	seen := make(map[string]struct{}, len(features))
	for _, feature := range features {
		if feature == "" {
			return nil, errors.WithMessage(workflow.ErrConfiguration, "NewValidator failed, feature name is empty")
		}
		if _, ok := seen[feature]; ok {
			return nil, errors.WithMessagef(workflow.ErrConfiguration, "NewValidator failed, duplicate feature: %s", feature)
		}
		seen[feature] = struct{}{}
	}
	v := &Validator{
		features:       append([]string(nil), features...),
		clampNegatives: true,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Features 配置的特征列表
func (v *Validator) Features() []string {
	return append([]string(nil), v.features...)
}

func (v *Validator) ClampNegatives() bool {
	return v.clampNegatives
}

// Process 接受 *frame.Frame, frame.CSVPath, 以 .csv 结尾的字符串, map[string]any, *workflow.JSONContext
func (v *Validator) Process(ctx context.Context, data any) (any, error) {
	logger := workflow.LoggerFromContext(ctx, v.logger)
	f, err := v.toFrame(data)
	if err != nil {
		return nil, err
	}
	if f.NumRows() == 0 {
		return nil, errors.WithMessage(workflow.ErrEmptyResult, "no rows after filtering")
	}

	index := make([]int, len(v.features))
	synthesized := make([]string, 0)
	for j, feature := range v.features {
		index[j] = f.Column(feature)
		if index[j] < 0 {
			synthesized = append(synthesized, feature)
		}
	}
	if len(synthesized) > 0 {
		logger.InfoContext(ctx, "missing feature columns, filled with 0", "missing", synthesized)
	}

	values := make([][]float64, 0, f.NumRows())
	for _, row := range f.Rows {
		out := make([]float64, len(v.features))
		for j, col := range index {
			if col < 0 {
				continue
			}
			out[j] = v.normalize(ToFloat(row[col]))
		}
		values = append(values, out)
	}
	m, err := frame.NewMatrix(v.Features(), values)
	if err != nil {
		return nil, err
	}
	m.Synthesized = synthesized
	logger.DebugContext(ctx, "input validated", "rows", len(values), "columns", len(v.features))
	return m, nil
}

func (v *Validator) toFrame(data any) (*frame.Frame, error) {
	switch d := data.(type) {
	case *frame.Frame:
		if d == nil {
			return nil, errors.WithMessage(workflow.ErrInvalidShape, "frame is nil")
		}
		return d, nil
	case frame.CSVPath:
		return frame.ReadCSVFile(d)
	case string:
		path := frame.CSVPath(d)
		if err := path.Validate(); err != nil {
			return nil, err
		}
		return frame.ReadCSVFile(path)
	case map[string]any:
		return frame.FromRecords([]map[string]any{d}), nil
	case *workflow.JSONContext:
		if d == nil {
			return nil, errors.WithMessage(workflow.ErrInvalidShape, "record is nil")
		}
		return frame.FromJSONContexts([]*workflow.JSONContext{d}), nil
	}
	return nil, errors.WithMessagef(workflow.ErrUnsupportedInputKind, "unsupported input: %T", data)
}

func (v *Validator) normalize(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	if v.clampNegatives && value < 0 {
		return 0
	}
	// -0 统一成 0
	if value == 0 {
		return 0
	}
	return value
}

// MissingFeatures 输入缺少的特征列
func (v *Validator) MissingFeatures(f *frame.Frame) []string {
	missing := make([]string, 0)
	for _, feature := range v.features {
		if f.Column(feature) < 0 {
			missing = append(missing, feature)
		}
	}
	return missing
}

// ToFloat 转换成数字, 转换失败返回 NaN
func ToFloat(value any) float64 {
	switch v := value.(type) {
	case nil:
		return math.NaN()
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case fmt.Stringer:
		return ToFloat(v.String())
	}
	return math.NaN()
}
