// Package llm 定义聊天补全的线上类型与传输层错误分类。
//
// 所有后端均按 OpenAI 兼容协议交互：POST JSON 请求体
// {model, messages, <生成参数>}，响应取 choices[0].message.content。
// 错误通过 *Error 携带可重试标记，由 client 层的退避重试消费。
package llm
