// Package tests 是 netflow-triage 的内部集成测试模块。
//
// 此包位于 internal/ 目录下，外部项目无法导入。
//
// 测试内容
//
//   - workflow 图的构建和遍历
//   - 检测器端到端: 配置文件 -> 模型文件 -> 批量预测 -> 审计落库
//   - JSONContext 到表格再到特征矩阵的转换
//   - 并发场景和错误处理
//
// 运行测试
//
//	go test ./internal/tests/...
//
// 查看覆盖率：
//
//	go test -coverprofile=coverage.out -coverpkg=github.com/blingmoon/netflow-triage/... ./internal/tests/...
//	go tool cover -html=coverage.out
package tests
