package workflow

import "context"

// Runner 单条数据的图遍历, WorkflowGraph 是默认实现
type Runner interface {
	/**
	 * @description: 遍历图, 返回最后一个节点的输出
	 *				 没有可以走的边的时候提前结束, 返回当前数据, 不是错误
	 * @param ctx context.Context
	 * @param data any 第一个节点的输入
	 * @return any, error
	 */
	Run(ctx context.Context, data any) (any, error)
	/**
	 * @description: 遍历图, 同时返回结束方式和访问过的节点
	 *				 节点失败的时候 RunResult 也不为空, Terminal 为 failed, Path 最后一个是失败的节点
	 * @param ctx context.Context
	 * @param data any
	 * @return *RunResult, error
	 */
	RunWithTrace(ctx context.Context, data any) (*RunResult, error)
}

// Topology 只读的拓扑信息, 给调用方检查完整性
type Topology interface {
	Stages() []string
	Edges() []Edge
	HasStage(name string) bool
	Validate() error
}

var (
	_ Runner   = (*WorkflowGraph)(nil)
	_ Topology = (*WorkflowGraph)(nil)
)
