package detector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blingmoon/netflow-triage/frame"
	"github.com/blingmoon/netflow-triage/internal/commonregister"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	benignPath = []string{workflow.StartNode, StageInputValidator, StageBinaryClassifier, workflow.EndNode}
	attackPath = []string{workflow.StartNode, StageInputValidator, StageBinaryClassifier, StageMultiClassifier, workflow.EndNode}
)

func newTestPredictor(t *testing.T, mutate func(cfg *Config), opts ...Option) *Predictor {
	cfg := DefaultConfig(commonregister.Features)
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewPredictor(cfg, commonregister.NewBinaryForest(), commonregister.NewMultiForest(), opts...)
	require.NoError(t, err)
	return p
}

func predict(t *testing.T, p *Predictor, records ...map[string]any) *BatchResult {
	result, err := p.Predict(context.Background(), &PredictReq{Batch: commonregister.NewBatch(records...)})
	require.NoError(t, err)
	require.Len(t, result.Rows, len(records))
	return result
}

func TestNewPredictor(t *testing.T) {
	p := newTestPredictor(t, nil)
	assert.Equal(t, []string{StageBinaryClassifier, StageInputValidator, StageMultiClassifier}, p.Graph().Stages())
	assert.Len(t, p.Graph().Edges(), 5)
	assert.NoError(t, p.Graph().Validate())

	cfg := p.Config()
	cfg.Features[0] = "changed"
	assert.Equal(t, commonregister.Features[0], p.Config().Features[0])

	invalids := map[string]struct {
		mutate func(cfg *Config)
		binary func() *commonregister.FuncModel
	}{
		"没有特征":   {mutate: func(cfg *Config) { cfg.Features = nil }},
		"特征重复":   {mutate: func(cfg *Config) { cfg.Features = []string{"a", "a"} }},
		"模式不支持":  {mutate: func(cfg *Config) { cfg.Mode = "label" }},
		"并发数为0":  {mutate: func(cfg *Config) { cfg.MaxConcurrency = 0 }},
		"标签相同":   {mutate: func(cfg *Config) { cfg.AttackLabel = cfg.BenignLabel }},
		"二分类没有标签": {mutate: func(cfg *Config) { cfg.AttackLabel = "MALICIOUS" }},
		"特征个数和模型不一致": {mutate: func(cfg *Config) { cfg.Features = commonregister.Features[:3] }},
		"特征顺序和模型不一致": {mutate: func(cfg *Config) {
			f := commonregister.Features
			cfg.Features = []string{f[1], f[0], f[2], f[3]}
		}},
		"模型不支持概率": {
			mutate: func(cfg *Config) { cfg.Mode = workflow.ModeProba },
			binary: func() *commonregister.FuncModel {
				return &commonregister.FuncModel{
					ClassLabels: []string{"ATTACK", "BENIGN"},
					Classify:    func([]float64) string { return "BENIGN" },
				}
			},
		},
	}
	for name, c := range invalids {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig(commonregister.Features)
			c.mutate(&cfg)
			var err error
			if c.binary != nil {
				_, err = NewPredictor(cfg, c.binary(), commonregister.NewMultiForest())
			} else {
				_, err = NewPredictor(cfg, commonregister.NewBinaryForest(), commonregister.NewMultiForest())
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, workflow.ErrConfiguration)
		})
	}

	t.Run("模型为空", func(t *testing.T) {
		_, err := NewPredictor(DefaultConfig(commonregister.Features), nil, commonregister.NewMultiForest())
		assert.ErrorIs(t, err, workflow.ErrConfiguration)
	})
}

func TestLoadPredictor(t *testing.T) {
	binaryPath, multiPath, err := commonregister.WriteModelFiles(t.TempDir())
	require.NoError(t, err)

	p, err := LoadPredictor(DefaultConfig(commonregister.Features), binaryPath, multiPath)
	require.NoError(t, err)
	result := predict(t, p, commonregister.DoSRow())
	assert.Equal(t, []string{commonregister.LabelDoS}, result.Labels())

	_, err = LoadPredictor(DefaultConfig(commonregister.Features), binaryPath, "missing.json")
	assert.ErrorIs(t, err, workflow.ErrModelLoad)
}

func TestPredict_Branches(t *testing.T) {
	p := newTestPredictor(t, nil)

	t.Run("正常流量只走二分类", func(t *testing.T) {
		result := predict(t, p, commonregister.BenignRow())
		row := result.Rows[0]
		assert.Equal(t, commonregister.LabelBenign, row.Label)
		assert.Equal(t, workflow.TerminalEnd, row.Terminal)
		assert.Equal(t, benignPath, row.Path)
		assert.Nil(t, row.Probability)
		assert.NoError(t, row.Err)
		assert.NotEmpty(t, result.BatchID, "没有指定批次id时自动生成")
	})

	t.Run("攻击流量走多分类", func(t *testing.T) {
		result := predict(t, p, commonregister.DoSRow())
		row := result.Rows[0]
		assert.Equal(t, commonregister.LabelDoS, row.Label)
		assert.Equal(t, attackPath, row.Path)
		assert.NotEqual(t, commonregister.LabelAttack, row.Label, "返回的是多分类的标签")
	})

	t.Run("混合批次保持顺序", func(t *testing.T) {
		result := predict(t, p, commonregister.BenignRow(), commonregister.PortScanRow(), commonregister.BruteForceRow())
		assert.Equal(t, []string{commonregister.LabelBenign, commonregister.LabelPortScan, commonregister.LabelBruteForce}, result.Labels())
		assert.Equal(t, benignPath, result.Rows[0].Path)
		assert.Equal(t, attackPath, result.Rows[1].Path)
		assert.Equal(t, attackPath, result.Rows[2].Path)
		for i, row := range result.Rows {
			assert.Equal(t, i, row.Index)
		}
		assert.Empty(t, result.Failed())
		assert.Empty(t, result.Errors())
	})

	t.Run("缺失的特征补0", func(t *testing.T) {
		result, err := p.Predict(context.Background(), &PredictReq{
			Batch: frame.FromRecords([]map[string]any{{"Unrelated": 1}}),
		})
		require.NoError(t, err)
		row := result.Rows[0]
		assert.Equal(t, commonregister.LabelBenign, row.Label)
		assert.Equal(t, commonregister.Features, row.Synthesized)
	})
}

func TestPredict_Proba(t *testing.T) {
	p := newTestPredictor(t, func(cfg *Config) { cfg.Mode = workflow.ModeProba })
	result := predict(t, p, commonregister.BenignRow(), commonregister.DoSRow(), commonregister.PortScanRow())
	assert.Equal(t, []string{commonregister.LabelBenign, commonregister.LabelDoS, commonregister.LabelPortScan}, result.Labels())
	probs := result.Probabilities()
	require.Len(t, probs, 3)
	for _, prob := range probs {
		require.NotNil(t, prob)
	}
	assert.InDelta(t, 0.9, *probs[0], 1e-9)
	assert.InDelta(t, 1.0, *probs[1], 1e-9)
	assert.InDelta(t, 0.75, *probs[2], 1e-9)
}

func TestPredict_ModeOverride(t *testing.T) {
	p := newTestPredictor(t, nil)
	ctx := context.Background()

	result, err := p.Predict(ctx, &PredictReq{Batch: commonregister.NewBatch(commonregister.BenignRow()), Mode: workflow.ModeProba})
	require.NoError(t, err)
	require.NotNil(t, result.Rows[0].Probability)
	assert.InDelta(t, 0.9, *result.Rows[0].Probability, 1e-9)

	result, err = p.Predict(ctx, &PredictReq{Batch: commonregister.NewBatch(commonregister.BenignRow(), commonregister.DoSRow()), Mode: "label"})
	require.NoError(t, err, "模式不支持是单行的错误")
	assert.Equal(t, []int{0, 1}, result.Failed())
	for _, row := range result.Rows {
		assert.ErrorIs(t, row.Err, workflow.ErrUnsupportedMode)
		assert.ErrorIs(t, row.Err, workflow.ErrStageExecutionFailure)
		assert.Equal(t, workflow.TerminalFailed, row.Terminal)
		assert.True(t, workflow.IsCallerError(row.Err))
	}
}

func TestPredict_RequestErrors(t *testing.T) {
	p := newTestPredictor(t, nil)
	ctx := context.Background()

	_, err := p.Predict(ctx, nil)
	assert.ErrorIs(t, err, workflow.ErrInvalidShape)

	_, err = p.Predict(ctx, &PredictReq{})
	assert.ErrorIs(t, err, workflow.ErrInvalidShape)

	_, err = p.Predict(ctx, &PredictReq{Batch: commonregister.NewBatch()})
	assert.ErrorIs(t, err, workflow.ErrEmptyResult, "没有行的批次是请求错误")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Predict(canceled, &PredictReq{Batch: commonregister.NewBatch(commonregister.BenignRow())})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredict_RowFailureIsolated(t *testing.T) {
	multi := &commonregister.FuncModel{
		ClassLabels: []string{"X"},
		Classify: func(row []float64) string {
			if row[0] == 666 {
				panic("bad row")
			}
			return "X"
		},
	}
	p, err := NewPredictor(DefaultConfig(commonregister.Features), commonregister.NewBinaryForest(), multi)
	require.NoError(t, err)

	bad := commonregister.DoSRow()
	bad["Destination Port"] = 666
	result := predict(t, p, commonregister.BenignRow(), bad, commonregister.DoSRow())

	assert.Equal(t, []string{commonregister.LabelBenign, "", "X"}, result.Labels())
	assert.Equal(t, []int{1}, result.Failed())
	errs := result.Errors()
	require.Contains(t, errs, 1)
	var stageErr *workflow.StageError
	require.True(t, errors.As(errs[1], &stageErr))
	assert.Equal(t, StageMultiClassifier, stageErr.Stage)
	assert.Equal(t, []workflow.Terminal{workflow.TerminalEnd, workflow.TerminalFailed, workflow.TerminalEnd}, result.Terminals())
}

func TestPredict_DeadEnd(t *testing.T) {
	binary := &commonregister.FuncModel{
		ClassLabels: []string{"ATTACK", "BENIGN", "UNKNOWN"},
		Classify:    func([]float64) string { return "UNKNOWN" },
	}
	p, err := NewPredictor(DefaultConfig(commonregister.Features), binary, commonregister.NewMultiForest())
	require.NoError(t, err)

	result := predict(t, p, commonregister.BenignRow())
	row := result.Rows[0]
	assert.Equal(t, workflow.TerminalDeadEnd, row.Terminal)
	assert.Equal(t, "UNKNOWN", row.Label, "提前结束保留最后一个节点的输出")
	assert.NoError(t, row.Err)
	assert.Equal(t, []string{workflow.StartNode, StageInputValidator, StageBinaryClassifier}, row.Path)
}

func TestPredict_OrderAndConcurrency(t *testing.T) {
	const rows = 12
	var inflight, maxInflight atomic.Int64
	binary := &commonregister.FuncModel{
		ClassLabels: []string{"ATTACK", "BENIGN"},
		Classify:    func([]float64) string { return "ATTACK" },
		Delay: func(row []float64) time.Duration {
			n := inflight.Add(1)
			for {
				old := maxInflight.Load()
				if n <= old || maxInflight.CompareAndSwap(old, n) {
					break
				}
			}
			// 先到的行后完成
			time.Sleep(time.Duration(rows-int(row[0])) * time.Millisecond)
			inflight.Add(-1)
			return 0
		},
	}
	multi := &commonregister.FuncModel{
		Classify: func(row []float64) string { return fmt.Sprintf("row-%d", int(row[0])) },
	}
	p, err := NewPredictor(DefaultConfig(commonregister.Features), binary, multi, WithLogger(nil))
	require.NoError(t, err)
	p.cfg.MaxConcurrency = 3

	records := make([]map[string]any, 0, rows)
	want := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		records = append(records, map[string]any{"Destination Port": i})
		want = append(want, fmt.Sprintf("row-%d", i))
	}
	first := predict(t, p, records...)
	assert.Equal(t, want, first.Labels())
	assert.LessOrEqual(t, maxInflight.Load(), int64(3))
	assert.EqualValues(t, rows, binary.Calls())

	second := predict(t, p, records...)
	assert.Equal(t, first.Labels(), second.Labels(), "相同的输入结果相同")
}

func TestPredict_BatchLock(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	binary := &commonregister.FuncModel{
		ClassLabels: []string{"ATTACK", "BENIGN"},
		Classify:    func([]float64) string { return "BENIGN" },
		Delay: func([]float64) time.Duration {
			once.Do(func() { close(started) })
			<-release
			return 0
		},
	}
	p, err := NewPredictor(DefaultConfig(commonregister.Features), binary, commonregister.NewMultiForest(),
		WithLock(workflow.NewLocalBatchLock(nil)))
	require.NoError(t, err)

	ctx := context.Background()
	req := &PredictReq{BatchID: "batch-1", Batch: commonregister.NewBatch(commonregister.BenignRow())}
	done := make(chan error, 1)
	go func() {
		_, err := p.Predict(ctx, req)
		done <- err
	}()
	<-started

	_, err = p.Predict(ctx, req)
	assert.ErrorIs(t, err, workflow.ErrBatchInProgress)

	close(release)
	require.NoError(t, <-done)

	result, err := p.Predict(ctx, req)
	require.NoError(t, err, "前一个批次结束之后可以再执行")
	assert.Equal(t, "batch-1", result.BatchID)
}

type failedRecorder struct {
	calls atomic.Int64
}

func (r *failedRecorder) Record(ctx context.Context, result *BatchResult) error {
	r.calls.Add(1)
	return errors.New("disk full")
}

func TestPredict_Recorder(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, workflow.AutoMigrate(db))
	repo := workflow.NewPredictionRepo(db)
	recorder := NewRepoRecorder(repo)

	p := newTestPredictor(t, func(cfg *Config) { cfg.Mode = workflow.ModeProba }, WithRecorder(recorder))
	ctx := context.Background()
	result, err := p.Predict(ctx, &PredictReq{
		BatchID: "audit-1",
		Batch:   commonregister.NewBatch(commonregister.BenignRow(), commonregister.DoSRow()),
	})
	require.NoError(t, err)

	records, err := repo.QueryPredictionRecords(ctx, &workflow.QueryPredictionRecordParams{
		BatchID: &result.BatchID,
		Page:    &workflow.Pager{},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, commonregister.LabelBenign, records[0].Label)
	assert.Equal(t, 0, records[0].RowIndex)
	assert.Equal(t, commonregister.LabelDoS, records[1].Label)
	assert.Equal(t, "START,InputValidator,BinaryClassifier,MultiClassifier,END", records[1].Path)
	require.NotNil(t, records[1].Probability)
	assert.InDelta(t, 1.0, *records[1].Probability, 1e-9)

	t.Run("重复记录", func(t *testing.T) {
		require.NoError(t, recorder.Record(ctx, result))
		count, err := repo.CountPredictionRecords(ctx, &workflow.QueryPredictionRecordParams{BatchID: &result.BatchID})
		require.NoError(t, err)
		assert.EqualValues(t, 2, count)
	})

	t.Run("记录失败不影响结果", func(t *testing.T) {
		failed := &failedRecorder{}
		p := newTestPredictor(t, nil, WithRecorder(failed))
		result := predict(t, p, commonregister.BenignRow())
		assert.Equal(t, []string{commonregister.LabelBenign}, result.Labels())
		assert.EqualValues(t, 1, failed.calls.Load())
	})
}
