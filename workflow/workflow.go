package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"

	"github.com/pkg/errors"
)

// WorkflowGraph 工作流图, 节点 + 有序的条件边
// 构建阶段调用 AddStage/AddEdge, 构建完成之后只读, Run 可以被多个 goroutine 并发调用
type WorkflowGraph struct {
	stages   map[string]Stage
	edges    []Edge
	outgoing map[string][]Edge // from -> edges, 保持插入顺序
	logger   *slog.Logger
}

// RunResult 一次遍历的结果
type RunResult struct {
	Data     any      // 最后一个节点的输出
	Terminal Terminal // 结束方式, end 或者 dead_end
	Path     []string // 访问过的节点, 包含哨兵节点
	Steps    int      // 走过的边数
}

type GraphOption func(*WorkflowGraph)

// WithGraphLogger 注入 logger, 不设置的话使用 slog.Default()
func WithGraphLogger(logger *slog.Logger) GraphOption {
	return func(g *WorkflowGraph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewWorkflowGraph(opts ...GraphOption) *WorkflowGraph {
	g := &WorkflowGraph{
		stages:   make(map[string]Stage),
		edges:    make([]Edge, 0),
		outgoing: make(map[string][]Edge),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

/*
*
  - @description: 注册节点, 同名节点会覆盖, 覆盖只打 warn 日志不返回错误
  - @param name string 节点名称, 不能是 START/END
  - @param stage Stage
  - @return error 只有名称非法或者 stage 为 nil 才会返回错误
*/
func (g *WorkflowGraph) AddStage(name string, stage Stage) error {
	if name == "" || name == StartNode || name == EndNode {
		g.logger.Error("stage name is reserved or empty, ignored", "stage", name)
		return errors.WithMessagef(ErrStageNameReserved, "AddStage failed, name: %q", name)
	}
	if stage == nil {
		g.logger.Error("stage is nil, ignored", "stage", name)
		return errors.Errorf("AddStage failed, stage is nil, name: %s", name)
	}
	if _, ok := g.stages[name]; ok {
		g.logger.Warn("stage already registered, overwritten", "stage", name)
	}
	g.stages[name] = stage
	g.logger.Debug("stage registered", "stage", name)
	return nil
}

/*
*
  - @description: 连接两个节点, 可以从 START 出发或者指向 END
    端点不存在的时候打 error 日志并且丢弃这条边, 图会不完整, 需要完整性的调用方用 Validate 检查
  - @param from string
  - @param to string
  - @param predicate Predicate 可以为nil, nil 表示无条件
  - @return error
*/
func (g *WorkflowGraph) AddEdge(from string, to string, predicate Predicate) error {
	if from != StartNode {
		if _, ok := g.stages[from]; !ok {
			g.logger.Error("edge source not registered, edge discarded", "from", from, "to", to)
			return errors.WithMessagef(ErrEdgeEndpointNotFound, "AddEdge failed, source: %s", from)
		}
	}
	if to != EndNode {
		if _, ok := g.stages[to]; !ok {
			g.logger.Error("edge destination not registered, edge discarded", "from", from, "to", to)
			return errors.WithMessagef(ErrEdgeEndpointNotFound, "AddEdge failed, destination: %s", to)
		}
	}
	edge := Edge{From: from, To: to, Predicate: predicate}
	g.edges = append(g.edges, edge)
	g.outgoing[from] = append(g.outgoing[from], edge)
	g.logger.Debug("edge added", "from", from, "to", to, "cond", predicate != nil)
	return nil
}

// Run 从 START 开始遍历, 返回最后的数据
func (g *WorkflowGraph) Run(ctx context.Context, data any) (any, error) {
	result, err := g.RunWithTrace(ctx, data)
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

// RunWithTrace 遍历并返回结束方式和路径
// 原则:
// 1. START 不执行节点, 直接走第一条边
// 2. 每个节点的输出替换当前数据, 按照加边的顺序找第一条满足条件的边
// 3. 没有出边或者没有满足条件的边, 提前结束, 不是错误
// 4. 节点失败直接返回, 本次遍历终止
// 不做环检测, 有环并且条件恒为真会一直循环, 图的构建方需要保证无环
func (g *WorkflowGraph) RunWithTrace(ctx context.Context, data any) (*RunResult, error) {
	logger := LoggerFromContext(ctx, g.logger)
	result := &RunResult{
		Data: data,
		Path: make([]string, 0, len(g.stages)+2),
	}
	currentNode := StartNode
	for currentNode != EndNode {
		result.Path = append(result.Path, currentNode)
		nextEdges := g.outgoing[currentNode]
		if len(nextEdges) == 0 {
			logger.InfoContext(ctx, "no outgoing edge, workflow stopped", "node", currentNode, "terminal", TerminalDeadEnd)
			result.Terminal = TerminalDeadEnd
			return result, nil
		}

		if currentNode == StartNode {
			currentNode = nextEdges[0].To
			result.Steps++
			continue
		}

		stage, ok := g.stages[currentNode]
		if !ok {
			// AddEdge 已经检查过端点, 不会出现这种情况
			result.Terminal = TerminalFailed
			return result, errors.WithMessagef(ErrStageNotFound, "RunWithTrace failed, stage: %s", currentNode)
		}
		logger.DebugContext(ctx, "running stage", "stage", currentNode)
		out, err := g.processStage(ctx, logger, currentNode, stage, result.Data)
		if err != nil {
			logger.ErrorContext(ctx, "stage failed", "stage", currentNode, "terminal", TerminalFailed, "error", err)
			result.Terminal = TerminalFailed
			return result, err
		}
		result.Data = out

		nextNode := ""
		for _, edge := range nextEdges {
			if edge.isEligible(out) {
				nextNode = edge.To
				break
			}
		}
		if nextNode == "" {
			logger.InfoContext(ctx, "no eligible edge, workflow stopped", "node", currentNode, "terminal", TerminalDeadEnd)
			result.Terminal = TerminalDeadEnd
			return result, nil
		}
		currentNode = nextNode
		result.Steps++
	}
	result.Path = append(result.Path, EndNode)
	result.Terminal = TerminalEnd
	logger.DebugContext(ctx, "workflow completed", "steps", result.Steps, "terminal", TerminalEnd)
	return result, nil
}

func (g *WorkflowGraph) processStage(ctx context.Context, logger *slog.Logger, name string, stage Stage, data any) (out any, err error) {
	defer func() {
		// panic 捕捉一下, 当成节点失败返回
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "stage panic", "stage", name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			out = nil
			err = &StageError{Stage: name, Err: errors.Errorf("panic: %v", r)}
		}
	}()
	out, err = stage.Process(ctx, data)
	if err != nil {
		return nil, &StageError{Stage: name, Err: err}
	}
	return out, nil
}

// Validate 检查图结构: START 必须有出边, 从 START 可达的部分不能有环
// Run 不会调用这个方法, 构建方按需调用
func (g *WorkflowGraph) Validate() error {
	if len(g.outgoing[StartNode]) == 0 {
		return errors.WithMessagef(ErrEdgeEndpointNotFound, "Validate failed, %s has no outgoing edge", StartNode)
	}
	visitMap := make(map[string]bool)
	reached := make(map[string]bool)
	if err := g.visitNode(StartNode, visitMap, reached); err != nil {
		return errors.WithMessage(err, "Validate failed")
	}
	for _, name := range g.Stages() {
		if !reached[name] {
			g.logger.Warn("stage is not reachable from START", "stage", name)
		}
	}
	return nil
}

func (g *WorkflowGraph) visitNode(node string, visitMap map[string]bool, reached map[string]bool) error {
	if node == EndNode {
		// 达到终点, 这条路径没有环
		return nil
	}
	if visitMap[node] {
		return errors.WithMessagef(ErrGraphCycle, "node %s is already on the path", node)
	}
	visitMap[node] = true
	reached[node] = true
	for _, edge := range g.outgoing[node] {
		if err := g.visitNode(edge.To, visitMap, reached); err != nil {
			return errors.WithMessagef(err, "visitNode failed, node: %s, next: %s", node, edge.To)
		}
	}
	visitMap[node] = false
	return nil
}

// Stages 已注册的节点名称, 按名称排序
func (g *WorkflowGraph) Stages() []string {
	names := make([]string, 0, len(g.stages))
	for name := range g.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Edges 所有边的拷贝, 按插入顺序
func (g *WorkflowGraph) Edges() []Edge {
	ret := make([]Edge, len(g.edges))
	copy(ret, g.edges)
	return ret
}

// HasStage 是否注册了节点
func (g *WorkflowGraph) HasStage(name string) bool {
	_, ok := g.stages[name]
	return ok
}
