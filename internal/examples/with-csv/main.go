package main

// csv 作为预测结果的审计存储

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/blingmoon/netflow-triage/detector"
	"github.com/blingmoon/netflow-triage/internal/commonregister"
	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

var _ workflow.PredictionRepo = (*CsvRepo)(nil)

var recordHeader = []string{"id", "batch_id", "row_index", "label", "probability", "terminal", "path", "error", "created_at"}

type CsvRepo struct {
	recordFile string
	mu         sync.RWMutex
}

// NewCsvRepo recordFile 不存在的时候创建并写入表头
func NewCsvRepo(recordFile string) (*CsvRepo, error) {
	repo := &CsvRepo{recordFile: recordFile}
	if _, err := os.Stat(recordFile); os.IsNotExist(err) {
		if err := repo.writeRecords(nil); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func (c *CsvRepo) readRecords() ([]*workflow.PredictionRecordPo, error) {
	file, err := os.Open(c.recordFile)
	if err != nil {
		return nil, errors.WithMessage(err, "open prediction record file failed")
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.WithMessage(err, "read prediction record CSV failed")
	}
	records := make([]*workflow.PredictionRecordPo, 0, len(rows))
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if len(row) < len(recordHeader) {
			continue
		}
		id, _ := strconv.ParseInt(row[0], 10, 64)
		rowIndex, _ := strconv.Atoi(row[2])
		createdAt, _ := strconv.ParseInt(row[8], 10, 64)
		record := &workflow.PredictionRecordPo{
			ID:        id,
			BatchID:   row[1],
			RowIndex:  rowIndex,
			Label:     row[3],
			Terminal:  row[5],
			Path:      row[6],
			Error:     row[7],
			CreatedAt: createdAt,
		}
		if p, err := strconv.ParseFloat(row[4], 64); err == nil {
			record.Probability = &p
		}
		records = append(records, record)
	}
	return records, nil
}

func (c *CsvRepo) writeRecords(records []*workflow.PredictionRecordPo) error {
	file, err := os.Create(c.recordFile)
	if err != nil {
		return errors.WithMessage(err, "create prediction record file failed")
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(recordHeader); err != nil {
		return errors.WithMessage(err, "write header failed")
	}
	for _, record := range records {
		probability := ""
		if record.Probability != nil {
			probability = strconv.FormatFloat(*record.Probability, 'f', -1, 64)
		}
		if err := writer.Write([]string{
			strconv.FormatInt(record.ID, 10),
			record.BatchID,
			strconv.Itoa(record.RowIndex),
			record.Label,
			probability,
			record.Terminal,
			record.Path,
			record.Error,
			strconv.FormatInt(record.CreatedAt, 10),
		}); err != nil {
			return errors.WithMessage(err, "write record failed")
		}
	}
	writer.Flush()
	return writer.Error()
}

func (c *CsvRepo) filterRecords(records []*workflow.PredictionRecordPo, param *workflow.QueryPredictionRecordParams) []*workflow.PredictionRecordPo {
	result := make([]*workflow.PredictionRecordPo, 0)
	for _, record := range records {
		if param.BatchID != nil && record.BatchID != *param.BatchID {
			continue
		}
		if len(param.LabelIn) > 0 && !slices.Contains(param.LabelIn, record.Label) {
			continue
		}
		if len(param.TerminalIn) > 0 && !slices.Contains(param.TerminalIn, record.Terminal) {
			continue
		}
		if param.OnlyFailed && record.Error == "" {
			continue
		}
		result = append(result, record)
	}
	return result
}

func (c *CsvRepo) CreatePredictionRecords(ctx context.Context, records []*workflow.PredictionRecordPo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.readRecords()
	if err != nil {
		return err
	}
	var nextID int64 = 1
	for _, record := range existing {
		nextID = max(nextID, record.ID+1)
	}
	now := time.Now().Unix()
	for _, record := range records {
		record.ID = nextID
		nextID++
		if record.CreatedAt == 0 {
			record.CreatedAt = now
		}
		existing = append(existing, record)
	}
	return c.writeRecords(existing)
}

func (c *CsvRepo) QueryPredictionRecords(ctx context.Context, param *workflow.QueryPredictionRecordParams) ([]*workflow.PredictionRecordPo, error) {
	if param == nil {
		return nil, errors.New("nil QueryPredictionRecordParams")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	records, err := c.readRecords()
	if err != nil {
		return nil, err
	}
	result := c.filterRecords(records, param)
	if param.OrderbyIDAsc != nil && !*param.OrderbyIDAsc {
		slices.Reverse(result)
	}
	if param.Page == nil || (param.Page.IsNoLimit != nil && *param.Page.IsNoLimit) {
		return result, nil
	}
	page, size := param.Page.Page, param.Page.Size
	if page == 0 {
		page = 1
	}
	if size == 0 {
		size = 10
	}
	start := int((page - 1) * size)
	if start >= len(result) {
		return []*workflow.PredictionRecordPo{}, nil
	}
	return result[start:min(start+int(size), len(result))], nil
}

func (c *CsvRepo) CountPredictionRecords(ctx context.Context, param *workflow.QueryPredictionRecordParams) (int64, error) {
	if param == nil {
		return 0, errors.New("nil QueryPredictionRecordParams")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	records, err := c.readRecords()
	if err != nil {
		return 0, err
	}
	return int64(len(c.filterRecords(records, param))), nil
}

// Transaction CSV 文件不支持事务, 中间出错已经写入的数据不会回滚
func (c *CsvRepo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func main() {
	repo, err := NewCsvRepo("prediction_record.csv")
	if err != nil {
		panic(err)
	}
	predictor, err := detector.NewPredictor(
		detector.DefaultConfig(commonregister.Features),
		commonregister.NewBinaryForest(),
		commonregister.NewMultiForest(),
		detector.WithRecorder(detector.NewRepoRecorder(repo)),
	)
	if err != nil {
		panic(err)
	}

	result, err := predictor.Predict(context.Background(), &detector.PredictReq{
		BatchID: "CSV-" + strconv.FormatInt(time.Now().Unix(), 10),
		Batch: commonregister.NewBatch(
			commonregister.BenignRow(),
			commonregister.DoSRow(),
			commonregister.PortScanRow(),
		),
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("batch %s labels: %v\n", result.BatchID, result.Labels())
}
