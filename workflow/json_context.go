package workflow

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONContext 单条 key/value 记录, 一般是 http 请求里面 {"data":[{...}]} 的一项
// 数字统一按照 json.Number 保存, 不会丢精度
type JSONContext struct {
	data map[string]any
}

// NewJSONContext 从 JSON 对象创建记录, 不是对象的时候返回错误
func NewJSONContext(b []byte) (*JSONContext, error) {
	c := &JSONContext{data: make(map[string]any)}
	if len(bytes.TrimSpace(b)) == 0 {
		return c, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(b))
	decoder.UseNumber()
	if err := decoder.Decode(&c.data); err != nil {
		return nil, errors.WithMessagef(ErrInvalidShape, "NewJSONContext failed, err: %v", err)
	}
	if c.data == nil {
		return nil, errors.WithMessage(ErrUnsupportedInputKind, "NewJSONContext failed, record is null")
	}
	return c, nil
}

// NewJSONContextFromMap 从 map 创建记录, 会做一层浅拷贝
func NewJSONContextFromMap(m map[string]any) *JSONContext {
	c := &JSONContext{data: make(map[string]any, len(m))}
	for k, v := range m {
		c.data[k] = v
	}
	return c
}

// ParseJSONContexts 解析 {"data":[{...},{...}]} 格式, 也接受直接的数组
func ParseJSONContexts(b []byte) ([]*JSONContext, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, errors.WithMessage(ErrInvalidShape, "ParseJSONContexts failed, empty body")
	}
	items := make([]json.RawMessage, 0)
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errors.WithMessagef(ErrInvalidShape, "ParseJSONContexts failed, err: %v", err)
		}
	} else {
		wrapper := struct {
			Data []json.RawMessage `json:"data"`
		}{}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, errors.WithMessagef(ErrInvalidShape, "ParseJSONContexts failed, err: %v", err)
		}
		items = wrapper.Data
	}
	ret := make([]*JSONContext, 0, len(items))
	for i, item := range items {
		c, err := NewJSONContext(item)
		if err != nil {
			return nil, errors.WithMessagef(err, "ParseJSONContexts failed, index: %d", i)
		}
		ret = append(ret, c)
	}
	return ret, nil
}

func (c *JSONContext) Len() int {
	if c == nil {
		return 0
	}
	return len(c.data)
}

// ToMap 返回浅拷贝, 修改返回值不会影响记录本身
func (c *JSONContext) ToMap() map[string]any {
	ret := make(map[string]any, c.Len())
	if c == nil {
		return ret
	}
	for k, v := range c.data {
		ret[k] = v
	}
	return ret
}
