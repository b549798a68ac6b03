package frame

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/blingmoon/netflow-triage/workflow"
	"github.com/pkg/errors"
)

// CSVPath csv 文件路径, 校验节点会读取这个文件
type CSVPath string

func (p CSVPath) Validate() error {
	if !strings.HasSuffix(strings.ToLower(string(p)), ".csv") {
		return errors.WithMessagef(workflow.ErrUnsupportedInputKind, "not a csv file: %s", string(p))
	}
	return nil
}

// ReadCSV 第一行是表头, 值保持字符串, 表头两边的空格会去掉
// CICFlowMeter 导出的表头带前导空格, 比如 " Destination Port"
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.WithMessage(workflow.ErrInvalidShape, "csv has no header")
	}
	if err != nil {
		return nil, errors.WithMessagef(workflow.ErrInvalidShape, "read csv header failed, err: %v", err)
	}
	columns := make([]string, 0, len(header))
	counts := make(map[string]int, len(header))
	for _, column := range header {
		column = strings.TrimSpace(strings.TrimPrefix(column, "\ufeff"))
		// 重复的表头加后缀, Fwd Header Length -> Fwd Header Length.1
		// 加了后缀的名字也可能已经存在, 一直加到没有被使用为止
		n := counts[column]
		for n > 0 {
			counts[column] = n + 1
			column = column + "." + strconv.Itoa(n)
			n = counts[column]
		}
		counts[column] = n + 1
		columns = append(columns, column)
	}
	rows := make([][]any, 0)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(workflow.ErrInvalidShape, "read csv line %d failed, err: %v", line, err)
		}
		if len(record) != len(columns) {
			return nil, errors.WithMessagef(workflow.ErrInvalidShape, "csv line %d has %d fields, want %d", line, len(record), len(columns))
		}
		row := make([]any, len(record))
		for i, value := range record {
			row[i] = value
		}
		rows = append(rows, row)
	}
	return New(columns, rows)
}

// ReadCSVFile 读取 csv 文件
func ReadCSVFile(path CSVPath) (*Frame, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	file, err := os.Open(string(path))
	if err != nil {
		return nil, errors.WithMessagef(workflow.ErrInvalidShape, "open csv file failed, path: %s, err: %v", string(path), err)
	}
	defer file.Close()
	f, err := ReadCSV(file)
	if err != nil {
		return nil, errors.WithMessagef(err, "ReadCSVFile failed, path: %s", string(path))
	}
	return f, nil
}
