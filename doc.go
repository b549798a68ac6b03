// Package netflow 网络流量两级分类。
//
// 每一条流量记录先经过二分类模型区分正常和攻击, 判定为攻击的记录再经过多分类模型得到攻击类型。
// 批量请求按行拆开, 每一行在固定的工作流图上独立遍历, 结果按输入顺序返回。
//
// 主要特性：
//   - 工作流图：START/END 哨兵, 带条件的有向边, 按加边顺序选择第一条满足条件的边
//   - 输入校验：CSV 文件、表格、单条记录统一转换成配置好的特征矩阵, 缺失特征补 0
//   - 模型：JSON 导出的随机森林/决策树, 支持 predict 和 proba 两种模式
//   - 并发：每行一个任务, 并发数有上限, 单行失败不影响其他行
//   - 审计：GORM 落库, 批次锁支持本地锁和分布式锁（Redis）
//
// 包结构：
//
//	workflow/            工作流图、错误定义、批次锁、审计存储
//	frame/               表格和特征矩阵, CSV 读取
//	model/               模型接口和树模型
//	stages/              InputValidator 和 Classifier 节点
//	detector/            固定拓扑的检测器, 批量预测
//	cmd/netflowd/        HTTP 服务和命令行
//	internal/config/     TOML + 环境变量配置
//
// 基础使用示例:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//
//	    "github.com/blingmoon/netflow-triage/detector"
//	    "github.com/blingmoon/netflow-triage/frame"
//	)
//
//	func main() {
//	    cfg := detector.DefaultConfig([]string{"Destination Port", "Flow Duration", "Total Fwd Packets", "Total Backward Packets"})
//	    predictor, err := detector.LoadPredictor(cfg, "models/binary_rf.json", "models/multi_rf.json")
//	    if err != nil {
//	        panic(err)
//	    }
//	    batch, err := frame.ReadCSVFile("flows.csv")
//	    if err != nil {
//	        panic(err)
//	    }
//	    result, err := predictor.Predict(context.Background(), &detector.PredictReq{Batch: batch})
//	    if err != nil {
//	        panic(err)
//	    }
//	    fmt.Println(result.Labels())
//	}
//
// 单行的错误通过 BatchResult.Errors() 获取, Predict 返回的 error 只表示请求本身失败。
package netflow
