package workflow

import (
	"context"
)

// PredictionRepo 预测结果的审计存储
type PredictionRepo interface {
	CreatePredictionRecords(ctx context.Context, records []*PredictionRecordPo) error
	QueryPredictionRecords(ctx context.Context, param *QueryPredictionRecordParams) ([]*PredictionRecordPo, error)
	CountPredictionRecords(ctx context.Context, param *QueryPredictionRecordParams) (int64, error)
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
