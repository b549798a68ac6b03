package detector

import (
	"context"
	"log/slog"

	"github.com/blingmoon/netflow-triage/frame"
	"github.com/blingmoon/netflow-triage/stages"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// PredictReq 一次批量预测
type PredictReq struct {
	// BatchID 调用方指定的时候会加批次锁, 不指定则生成一个
	BatchID string       `validate:"omitempty,max=128"`
	Batch   *frame.Frame `validate:"required"`
	// Mode 覆盖配置里的模式, 为空使用配置
	Mode string `validate:"omitempty"`
}

// Predict 每一行单独跑一遍图, 结果按照输入的顺序返回
//
//	单行失败记录在对应的 RowResult.Err 里面, 不影响其他行
//	返回 error 只有请求本身的问题: 请求不合法, 批次正在执行, 没有一行被调度
func (p *Predictor) Predict(ctx context.Context, req *PredictReq) (*BatchResult, error) {
	if req == nil {
		return nil, errors.WithMessage(workflow.ErrInvalidShape, "predict request is nil")
	}
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.WithMessagef(workflow.ErrInvalidShape, "invalid predict request: %v", err)
	}
	if req.Batch.NumRows() == 0 {
		return nil, errors.WithMessage(workflow.ErrEmptyResult, "batch has no rows")
	}

	batchID := req.BatchID
	lock := p.lock
	if batchID == "" {
		batchID = uuid.NewString()
		// 生成的id不会重复, 不需要加锁
		lock = nil
	}

	var result *BatchResult
	err := workflow.LockBatch(ctx, lock, batchID, p.cfg.BatchLockTTL, func(ctx context.Context) error {
		var err error
		result, err = p.predict(ctx, batchID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.record(ctx, result)
	return result, nil
}

func (p *Predictor) predict(ctx context.Context, batchID string, req *PredictReq) (*BatchResult, error) {
	logger := p.logger.With("batch_id", batchID)
	rows := req.Batch.Split()
	result := &BatchResult{
		BatchID: batchID,
		Rows:    make([]RowResult, len(rows)),
	}

	g := errgroup.Group{}
	g.SetLimit(p.cfg.MaxConcurrency)
	dispatched := 0
	for i, row := range rows {
		// 调用方取消之后剩下的行不再调度
		if err := ctx.Err(); err != nil {
			result.Rows[i] = RowResult{Index: i, Terminal: workflow.TerminalFailed, Err: err}
			continue
		}
		dispatched++
		g.Go(func() error {
			result.Rows[i] = p.runRow(ctx, logger, i, row, req.Mode)
			return nil
		})
	}
	_ = g.Wait()

	if dispatched == 0 {
		return nil, errors.WithMessagef(ctx.Err(), "batch %s canceled before any row was dispatched", batchID)
	}
	logger.InfoContext(ctx, "batch predicted",
		"rows", len(rows),
		"failed", len(result.Failed()),
		"dead_end", result.countTerminal(workflow.TerminalDeadEnd),
	)
	return result, nil
}

func (p *Predictor) runRow(ctx context.Context, logger *slog.Logger, index int, row *frame.Frame, mode string) RowResult {
	rowLogger := logger.With("row", index)
	ctx = workflow.WithLogger(ctx, rowLogger)
	if mode != "" {
		ctx = workflow.WithMode(ctx, mode)
	}

	out := RowResult{Index: index}
	trace, err := p.graph.RunWithTrace(ctx, row)
	if trace != nil {
		out.Path = trace.Path
		out.Terminal = trace.Terminal
	}
	if err != nil {
		out.Terminal = workflow.TerminalFailed
		out.Err = err
		return out
	}

	classified, ok := trace.Data.(*stages.ClassifierResult)
	if !ok {
		out.Err = errors.WithMessagef(workflow.ErrEmptyResult, "row %d stopped at %s without a label, terminal: %s",
			index, lastStage(trace.Path), trace.Terminal)
		rowLogger.WarnContext(ctx, "row has no label", "terminal", trace.Terminal, "path", trace.Path)
		return out
	}
	label, ok := classified.FirstLabel()
	if !ok {
		out.Terminal = workflow.TerminalFailed
		out.Err = errors.WithMessagef(workflow.ErrEmptyResult, "row %d classifier returned no label", index)
		return out
	}
	out.Label = label
	out.Probability = classified.FirstProbability()
	if classified.Data != nil {
		out.Synthesized = classified.Data.Synthesized
	}
	return out
}

func lastStage(path []string) string {
	if len(path) == 0 {
		return workflow.StartNode
	}
	return path[len(path)-1]
}

func (p *Predictor) record(ctx context.Context, result *BatchResult) {
	if p.recorder == nil {
		return
	}
	// 请求结束也要记录下来
	if err := p.recorder.Record(context.WithoutCancel(ctx), result); err != nil {
		p.logger.WarnContext(ctx, "record batch result failed", "batch_id", result.BatchID, "error", err)
	}
}
