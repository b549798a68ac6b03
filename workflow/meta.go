package workflow

import "github.com/pkg/errors"

var (
	// 启动阶段错误, 只在初始化的时候出现, 出现了就直接终止启动, 不做恢复
	ErrConfiguration = errors.New("configuration error") // 特征列表缺失、模型路径缺失、拓扑不完整
	ErrModelLoad     = errors.New("model load error")    // 模型文件不存在或者格式不正确

	// 行级别的错误, 调用方传入的数据有问题
	ErrUnsupportedInputKind = errors.New("unsupported input kind") // 输入类型不支持
	ErrInvalidShape         = errors.New("invalid shape")          // 输入没有行列结构
	ErrEmptyResult          = errors.New("empty result")           // 过滤之后没有可用的行或者列

	// 模式相关的错误, 可能是行级别也可能是配置错误
	ErrUnsupportedMode           = errors.New("unsupported mode")            // mode 只能是 predict 或者 proba
	ErrModelUnsupportedOperation = errors.New("model unsupported operation") // 模型不支持概率输出

	// ErrStageExecutionFailure 所有节点执行失败都会被包装成这个错误, 原始错误可以通过 errors.Is 继续判断
	ErrStageExecutionFailure = errors.New("stage execution failure")

	// 拓扑相关的错误, 构建图的时候使用
	ErrStageNotFound        = errors.New("stage not found")
	ErrEdgeEndpointNotFound = errors.New("edge endpoint not found")
	ErrGraphCycle           = errors.New("graph has a cycle")
	ErrStageNameReserved    = errors.New("stage name is reserved")

	// ErrBatchInProgress 同一个批次号正在被处理, 不允许重复提交
	ErrBatchInProgress = errors.New("batch in progress")
)

// 哨兵节点, 不会执行任何节点逻辑
const (
	StartNode = "START"
	EndNode   = "END"
)

// Terminal 一次遍历结束的方式
type Terminal = string

const (
	// 正常走到 END
	TerminalEnd Terminal = "end"
	// 没有可以走的边, 提前结束, 这个不是错误
	TerminalDeadEnd Terminal = "dead_end"
	// 节点执行失败
	TerminalFailed Terminal = "failed"
)

// 预测模式
const (
	ModePredict = "predict"
	ModeProba   = "proba"
)

func IsSupportedMode(mode string) bool {
	return mode == ModePredict || mode == ModeProba
}

func GetTerminalText(terminal Terminal) string {
	switch terminal {
	case TerminalEnd:
		return "完成"
	case TerminalDeadEnd:
		return "提前结束"
	case TerminalFailed:
		return "失败"
	}
	return "未知"
}

// IsCallerError 判断是否是调用方的数据问题,
// 用于服务层决定返回 4xx 还是 5xx, 以及定时脚本打 warn 还是 error
func IsCallerError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedInputKind) ||
		errors.Is(err, ErrInvalidShape) ||
		errors.Is(err, ErrEmptyResult) ||
		errors.Is(err, ErrUnsupportedMode) {
		return true
	}
	return false
}

// IsSeriousError 严重错误定义: 需要人工介入处理
// 1. 启动配置有问题, 模型加载失败
// 2. 模型能力和配置不匹配, 比如配置了 proba 但是模型不支持
// 3. 图结构有问题
func IsSeriousError(err error) bool {
	if err == nil {
		return false
	}
	causeErr := errors.Cause(err)
	if errors.Is(causeErr, ErrConfiguration) ||
		errors.Is(causeErr, ErrModelLoad) ||
		errors.Is(causeErr, ErrModelUnsupportedOperation) ||
		errors.Is(causeErr, ErrStageNotFound) ||
		errors.Is(causeErr, ErrEdgeEndpointNotFound) ||
		errors.Is(causeErr, ErrGraphCycle) {
		return true
	}
	return false
}
