// Package transcript 定义对话记录的文档模型与原子化持久存储。
//
// 写入方与解析方共用同一组字面分节标记（v1 迷你协议），
// 格式漂移会在解析处立即暴露而不是静默破坏评估内容提取。
package transcript
