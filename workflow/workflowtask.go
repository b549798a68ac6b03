package workflow

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Stage 工作流节点, 需要外部实现
type Stage interface {
	/**
	 * @description:  节点执行
	 * @param ctx context.Context 上下文, 可以携带本次调用的 mode
	 * @param data any 上一个节点的输出, 第一个节点拿到的是 Run 的输入
	 * @return any 本节点的输出, 会成为下一个节点的输入
	 * @return error 非nil表示本次遍历失败, 不会再往下走
	 *
	 * 同一个 Stage 会被多个遍历并发调用, 实现里面只能读取加载好的资源, 不能修改共享状态
	 */
	Process(ctx context.Context, data any) (any, error)
}

// StageFunc 函数式的节点
type StageFunc func(ctx context.Context, data any) (any, error)

func (f StageFunc) Process(ctx context.Context, data any) (any, error) {
	if f == nil {
		return nil, errors.New("Not implemented")
	}
	return f(ctx, data)
}

// Predicate 边上的条件, 必须是纯函数, 对这条边上可能出现的所有数据都要有返回值
type Predicate func(data any) bool

// Edge 有向边, Predicate 为 nil 表示无条件
type Edge struct {
	From      string
	To        string
	Predicate Predicate
}

func (e Edge) isEligible(data any) bool {
	return e.Predicate == nil || e.Predicate(data)
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s (cond=%t)", e.From, e.To, e.Predicate != nil)
}

// StageError 节点执行失败的错误, errors.Is(err, ErrStageExecutionFailure) 为 true,
// 同时保留原始错误, errors.Is(err, ErrInvalidShape) 之类的判断也可以继续使用
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return target == ErrStageExecutionFailure
}
