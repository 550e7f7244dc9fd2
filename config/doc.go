// Package config 提供 kiboserve 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → KIBOSERVE_* 环境变量 的顺序合并，
// Validate 汇总所有校验错误后一次性返回。
//
// HotReloadManager 轮询配置文件，变更后重新加载并校验；Log.Level 立即生效，
// 其余字段的变更只记录日志，需要重启服务。
package config
