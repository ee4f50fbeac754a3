// Package client 实现单后端聊天补全客户端。
//
// 每个客户端绑定一个角色与一个后端：独立连接池、统一超时、
// 指数退避重试与本地指标。传输层故障重试后向上传播；
// 形状错误降级为空字符串哨兵，由编排层跳过该回合。
package client
