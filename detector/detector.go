// Package detector 网络流量两级分类
//
// 固定的拓扑:
//
//	START -> InputValidator -> BinaryClassifier --(BENIGN)--> END
//	                                   |
//	                                   +--(ATTACK)--> MultiClassifier -> END
//
// 图和模型在构造的时候创建一次, 之后只读, 所有并发的行共享
package detector

import (
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/blingmoon/netflow-triage/model"
	"github.com/blingmoon/netflow-triage/stages"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const (
	StageInputValidator   = "InputValidator"
	StageBinaryClassifier = "BinaryClassifier"
	StageMultiClassifier  = "MultiClassifier"
)

var validatorUtil = validator.New()

// Config 检测器的配置, 和文件格式无关
type Config struct {
	Features       []string      `validate:"required,min=1,unique,dive,required"`
	Mode           string        `validate:"oneof=predict proba"`
	ClampNegatives bool
	BenignLabel    string        `validate:"required"`
	AttackLabel    string        `validate:"required,nefield=BenignLabel"`
	MaxConcurrency int           `validate:"gte=1"`
	BatchLockTTL   time.Duration `validate:"gt=0"`
}

// DefaultConfig 默认配置
func DefaultConfig(features []string) Config {
	return Config{
		Features:       features,
		Mode:           workflow.ModePredict,
		ClampNegatives: true,
		BenignLabel:    "BENIGN",
		AttackLabel:    "ATTACK",
		MaxConcurrency: runtime.GOMAXPROCS(0),
		BatchLockTTL:   5 * time.Minute,
	}
}

type Option func(*Predictor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Predictor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecorder 每个批次结束之后记录结果
func WithRecorder(recorder Recorder) Option {
	return func(p *Predictor) {
		p.recorder = recorder
	}
}

// WithLock 调用方指定了批次id时, 用来防止同一个批次重复执行
func WithLock(lock workflow.BatchLock) Option {
	return func(p *Predictor) {
		p.lock = lock
	}
}

// Predictor 检测器, 并发安全
type Predictor struct {
	cfg      Config
	graph    *workflow.WorkflowGraph
	binary   model.Model
	multi    model.Model
	logger   *slog.Logger
	recorder Recorder
	lock     workflow.BatchLock
}

// NewPredictor 用已经加载好的模型构造检测器, 所有的错误都是 ErrConfiguration
func NewPredictor(cfg Config, binary model.Model, multi model.Model, opts ...Option) (*Predictor, error) {
	if err := validatorUtil.Struct(&cfg); err != nil {
		return nil, errors.WithMessagef(workflow.ErrConfiguration, "invalid detector config: %v", err)
	}
	if binary == nil || multi == nil {
		return nil, errors.WithMessage(workflow.ErrConfiguration, "binary and multi model are required")
	}
	classes := binary.Classes()
	for _, label := range []string{cfg.BenignLabel, cfg.AttackLabel} {
		if !slices.Contains(classes, label) {
			return nil, errors.WithMessagef(workflow.ErrConfiguration,
				"binary model classes %v have no label %s", classes, label)
		}
	}

	for name, m := range map[string]model.Model{"binary": binary, "multi": multi} {
		if err := checkFeatureSchema(cfg.Features, m); err != nil {
			return nil, errors.WithMessagef(workflow.ErrConfiguration, "%s model: %v", name, err)
		}
	}

	p := &Predictor{
		cfg:    cfg,
		binary: binary,
		multi:  multi,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	graph, err := p.buildGraph()
	if err != nil {
		return nil, errors.WithMessagef(workflow.ErrConfiguration, "build graph failed: %v", err)
	}
	p.graph = graph
	return p, nil
}

// checkFeatureSchema 模型记录了特征的时候, 个数和顺序必须和配置一致
func checkFeatureSchema(features []string, m model.Model) error {
	schema, ok := m.(model.FeatureSchema)
	if !ok {
		return nil
	}
	count, names := schema.FeatureSchema()
	if count != len(features) {
		return errors.Errorf("expects %d features, configured %d", count, len(features))
	}
	if len(names) != 0 && !slices.Equal(names, features) {
		return errors.Errorf("feature names %v differ from configured %v", names, features)
	}
	return nil
}

// LoadPredictor 从文件加载两个模型
func LoadPredictor(cfg Config, binaryPath string, multiPath string, opts ...Option) (*Predictor, error) {
	binary, err := model.LoadFile(binaryPath)
	if err != nil {
		return nil, err
	}
	multi, err := model.LoadFile(multiPath)
	if err != nil {
		return nil, err
	}
	return NewPredictor(cfg, binary, multi, opts...)
}

func (p *Predictor) buildGraph() (*workflow.WorkflowGraph, error) {
	inputValidator, err := stages.NewValidator(p.cfg.Features,
		stages.WithClampNegatives(p.cfg.ClampNegatives),
		stages.WithValidatorLogger(p.logger),
	)
	if err != nil {
		return nil, err
	}
	binaryClassifier, err := stages.NewClassifier(p.binary,
		stages.WithMode(p.cfg.Mode),
		stages.WithClassifierLogger(p.logger),
	)
	if err != nil {
		return nil, err
	}
	multiClassifier, err := stages.NewClassifier(p.multi,
		stages.WithMode(p.cfg.Mode),
		stages.WithClassifierLogger(p.logger),
	)
	if err != nil {
		return nil, err
	}

	g := workflow.NewWorkflowGraph(workflow.WithGraphLogger(p.logger))
	for name, stage := range map[string]workflow.Stage{
		StageInputValidator:   inputValidator,
		StageBinaryClassifier: binaryClassifier,
		StageMultiClassifier:  multiClassifier,
	} {
		if err := g.AddStage(name, stage); err != nil {
			return nil, err
		}
	}
	edges := []workflow.Edge{
		{From: workflow.StartNode, To: StageInputValidator},
		{From: StageInputValidator, To: StageBinaryClassifier},
		{From: StageBinaryClassifier, To: StageMultiClassifier, Predicate: stages.LabelIs(p.cfg.AttackLabel)},
		{From: StageBinaryClassifier, To: workflow.EndNode, Predicate: stages.LabelIs(p.cfg.BenignLabel)},
		{From: StageMultiClassifier, To: workflow.EndNode},
	}
	for _, edge := range edges {
		if err := g.AddEdge(edge.From, edge.To, edge.Predicate); err != nil {
			return nil, err
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Graph 构造好的图, 只读
func (p *Predictor) Graph() workflow.Topology {
	return p.graph
}

func (p *Predictor) Config() Config {
	cfg := p.cfg
	cfg.Features = slices.Clone(p.cfg.Features)
	return cfg
}

func (p *Predictor) BinaryModel() model.Model {
	return p.binary
}

func (p *Predictor) MultiModel() model.Model {
	return p.multi
}
