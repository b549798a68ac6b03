package stages

import "github.com/blingmoon/netflow-triage/workflow"

// LabelIs 第一行的标签等于 label, 不是分类结果的时候返回 false
func LabelIs(label string) workflow.Predicate {
	return func(data any) bool {
		result, ok := data.(*ClassifierResult)
		if !ok {
			return false
		}
		first, ok := result.FirstLabel()
		return ok && first == label
	}
}
