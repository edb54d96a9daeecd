package poe

import "os"

// proxyEnvVars 是按优先级排列的标准代理环境变量（https、http、all，大写优先）。
var proxyEnvVars = []string{
	"HTTPS_PROXY", "https_proxy",
	"HTTP_PROXY", "http_proxy",
	"ALL_PROXY", "all_proxy",
}

// ResolveProxyURL 按固定顺序解析代理地址：显式配置优先，
// 其后依次检查标准代理环境变量，返回第一个非空值；都未命中时返回空串。
// lookup 为 nil 时使用 os.Getenv。
func ResolveProxyURL(explicit string, lookup func(string) string) string {
	if explicit != "" {
		return explicit
	}
	if lookup == nil {
		lookup = os.Getenv
	}
	for _, name := range proxyEnvVars {
		if v := lookup(name); v != "" {
			return v
		}
	}
	return ""
}
