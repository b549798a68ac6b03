package detector

import (
	"context"
	"strings"

	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

/**
 * @description: 批次结果的记录器
 */
type Recorder interface {
	/**
	 * @description: 记录一个批次, 同一个批次重复记录不会产生新的数据
	 * @param ctx
	 * @param result
	 * @return error
	 */
	Record(ctx context.Context, result *BatchResult) error
}

type repoRecorder struct {
	repo workflow.PredictionRepo
}

// NewRepoRecorder 用审计存储记录结果
func NewRepoRecorder(repo workflow.PredictionRepo) Recorder {
	return &repoRecorder{repo: repo}
}

func (r *repoRecorder) Record(ctx context.Context, result *BatchResult) error {
	if result == nil || len(result.Rows) == 0 {
		return nil
	}
	return r.repo.Transaction(ctx, func(ctx context.Context) error {
		count, err := r.repo.CountPredictionRecords(ctx, &workflow.QueryPredictionRecordParams{
			BatchID: &result.BatchID,
		})
		if err != nil {
			return err
		}
		if count > 0 {
			// 已经记录过了
			return nil
		}
		if err := r.repo.CreatePredictionRecords(ctx, toRecords(result)); err != nil {
			return errors.WithMessagef(err, "record batch failed, batch_id: %s", result.BatchID)
		}
		return nil
	})
}

func toRecords(result *BatchResult) []*workflow.PredictionRecordPo {
	records := make([]*workflow.PredictionRecordPo, 0, len(result.Rows))
	for _, row := range result.Rows {
		record := &workflow.PredictionRecordPo{
			BatchID:     result.BatchID,
			RowIndex:    row.Index,
			Label:       row.Label,
			Probability: row.Probability,
			Terminal:    row.Terminal,
			Path:        strings.Join(row.Path, ","),
		}
		if row.Err != nil {
			record.Error = row.Err.Error()
		}
		records = append(records, record)
	}
	return records
}
