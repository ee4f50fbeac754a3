package config

import (
	"fmt"
	"os"
	"strings"
)

// Credential 单个提供商的接入凭证。
type Credential struct {
	APIURL string
	APIKey string
}

// Credentials 提供商名称 → 凭证的显式映射。
// 启动时一次性从环境变量解析，之后注入各客户端，
// 组件内部不再做动态环境变量查找。
type Credentials map[string]Credential

// ProviderOf 从模型标识推导提供商名称：
// 取第一个 "/" 之前的部分并转为大写，如 "deepseek/deepseek-chat" → "DEEPSEEK"。
func ProviderOf(model string) string {
	provider := model
	if idx := strings.Index(model, "/"); idx >= 0 {
		provider = model[:idx]
	}
	return strings.ToUpper(provider)
}

// ModelName 返回模型标识中最后一个 "/" 之后的部分，即发往 API 的模型名。
func ModelName(model string) string {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

// ResolveCredentials 收集配置中引用的全部模型（参与者 + 评估模型），
// 为每个提供商从 <PROVIDER>_API_URL / <PROVIDER>_API_KEY 解析凭证。
// 任一变量缺失返回 *MissingFieldError，字段名为缺失的环境变量名。
func ResolveCredentials(cfg *Config) (Credentials, error) {
	providers := make(map[string]struct{})
	for _, id := range cfg.Dialogue.Characters.Order {
		providers[ProviderOf(cfg.Dialogue.Characters.Instances[id].Model)] = struct{}{}
	}
	if cfg.Evaluation.Enabled {
		providers[ProviderOf(cfg.Evaluation.Model)] = struct{}{}
	}

	creds := make(Credentials, len(providers))
	for provider := range providers {
		urlKey := provider + "_API_URL"
		keyKey := provider + "_API_KEY"

		url := os.Getenv(urlKey)
		if url == "" {
			return nil, missing(urlKey)
		}
		key := os.Getenv(keyKey)
		if key == "" {
			return nil, missing(keyKey)
		}

		creds[provider] = Credential{APIURL: url, APIKey: key}
	}

	return creds, nil
}

// For 返回模型对应提供商的凭证。
func (c Credentials) For(model string) (Credential, error) {
	provider := ProviderOf(model)
	cred, ok := c[provider]
	if !ok {
		return Credential{}, fmt.Errorf("未解析提供商 %s 的凭证", provider)
	}
	return cred, nil
}
