package workflow

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var validatorUtil = validator.New()

const createBatchSize = 200

type PredictionRecordPo struct {
	ID          int64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	BatchID     string   `gorm:"column:batch_id;index" json:"batch_id"`
	RowIndex    int      `gorm:"column:row_index" json:"row_index"`
	Label       string   `gorm:"column:label" json:"label"`
	Probability *float64 `gorm:"column:probability" json:"probability"` // predict 模式为空
	Terminal    Terminal `gorm:"column:terminal" json:"terminal"`
	Path        string   `gorm:"column:path" json:"path"` // 节点路径, 逗号分隔
	Error       string   `gorm:"column:error" json:"error"`
	CreatedAt   int64    `gorm:"column:created_at" json:"created_at"`
}

func (PredictionRecordPo) TableName() string {
	return "prediction_record"
}

type QueryPredictionRecordParams struct {
	BatchID      *string  `json:"batch_id"`
	LabelIn      []string `json:"label_in"`
	TerminalIn   []string `json:"terminal_in"`
	OnlyFailed   bool     `json:"only_failed"`
	OrderbyIDAsc *bool    `json:"orderby_id_asc"`
	Page         *Pager   `json:"page"`
}

type Pager struct {
	IsNoLimit *bool `json:"is_no_limit"`
	Page      int64 `json:"page" validate:"gte=0"`
	Size      int64 `json:"size" validate:"gte=0,lte=1000"`
}

type predictionRepo struct {
	db *gorm.DB
}

func NewPredictionRepo(db *gorm.DB) PredictionRepo {
	return &predictionRepo{
		db: db,
	}
}

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&PredictionRecordPo{}); err != nil {
		return errors.WithMessage(err, "AutoMigrate PredictionRecordPo failed")
	}
	return nil
}

func (r *predictionRepo) CreatePredictionRecords(ctx context.Context, records []*PredictionRecordPo) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().Unix()
	for i, record := range records {
		if record == nil {
			return errors.Errorf("nil PredictionRecordPo, index: %d", i)
		}
		if record.CreatedAt == 0 {
			record.CreatedAt = now
		}
	}
	if err := r.GetDBWithContext(ctx).CreateInBatches(records, createBatchSize).Error; err != nil {
		return errors.WithMessage(err, "CreatePredictionRecords failed")
	}
	return nil
}

func buildQueryPredictionRecordParams(db *gorm.DB, isCount bool, param *QueryPredictionRecordParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryPredictionRecordParams")
	}
	if param.BatchID != nil {
		db = db.Where("batch_id = ?", *param.BatchID)
	}
	if len(param.LabelIn) != 0 {
		db = db.Where("label IN ?", param.LabelIn)
	}
	if len(param.TerminalIn) != 0 {
		db = db.Where("terminal IN ?", param.TerminalIn)
	}
	if param.OnlyFailed {
		db = db.Where("error <> ?", "")
	}
	if isCount {
		return db, nil
	}
	if param.OrderbyIDAsc == nil || *param.OrderbyIDAsc {
		db = db.Order("id asc")
	} else {
		db = db.Order("id desc")
	}
	if param.Page == nil {
		return nil, errors.New("page is nil")
	}
	if err := validatorUtil.Struct(param.Page); err != nil {
		return nil, errors.WithMessagef(err, "page is invalid, page: %+v", *param.Page)
	}
	if param.Page.IsNoLimit != nil && *param.Page.IsNoLimit {
		// 不分页显示指定了true
		return db, nil
	}
	page, size := param.Page.Page, param.Page.Size
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = 10
	}
	return db.Offset(int(page-1) * int(size)).Limit(int(size)), nil
}

func (r *predictionRepo) QueryPredictionRecords(ctx context.Context, param *QueryPredictionRecordParams) ([]*PredictionRecordPo, error) {
	db := r.GetDBWithContext(ctx).Model(&PredictionRecordPo{})
	db, err := buildQueryPredictionRecordParams(db, false, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryPredictionRecordParams failed")
	}
	pos := make([]*PredictionRecordPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryPredictionRecords failed")
	}
	return pos, nil
}

func (r *predictionRepo) CountPredictionRecords(ctx context.Context, param *QueryPredictionRecordParams) (int64, error) {
	db := r.GetDBWithContext(ctx).Model(&PredictionRecordPo{})
	db, err := buildQueryPredictionRecordParams(db, true, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryPredictionRecordParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.WithMessage(err, "CountPredictionRecords failed")
	}
	return count, nil
}

type contextKey string

const (
	transactionContextKey contextKey = "transaction"
)

func (r *predictionRepo) GetDBWithContext(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(transactionContextKey).(*gorm.DB)
	if !ok {
		return r.db.WithContext(ctx)
	}
	return tx
}

// Transaction 嵌套调用的时候复用外层事务
func (r *predictionRepo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(transactionContextKey).(*gorm.DB); ok {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, transactionContextKey, tx))
	})
}
