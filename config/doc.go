// Package config 提供 dialogueflow 的配置加载、校验与凭证解析。
//
// 配置来源优先级：默认值 → YAML 文件 → 环境变量覆盖。
// 角色声明顺序从 YAML 映射顺序保留，决定每轮发言次序。
// 校验采用首错即返策略，错误中带出缺失字段的完整路径。
package config
