// Package stages 预测流程里面的节点实现
//
//	START -> InputValidator -> BinaryClassifier -(ATTACK)-> MultiClassifier -> END
//	                                            -(BENIGN)-> END
//
// 节点只持有加载好的只读资源, 可以被多行数据并发调用
package stages
