// Package orchestrator 驱动多方对话的完整生命周期：
// 按声明顺序轮流发言、逐参与者重标注消息历史、逐轮原子持久化，
// 结束后提交评估。状态机 INIT → ROUND_RUNNING → EVALUATING → DONE，
// 任意阶段出错进入 FAILED。
package orchestrator
