// Package evaluator 对完成的对话记录发起第三方评判。
//
// 评判走独立的后端客户端，并在其上维护自己的有界重试循环：
// 结果必须包含全部必需分节标记才算合格。重试耗尽不向上抛错，
// 而是折叠为描述性失败文本交由编排器照常持久化。
package evaluator
