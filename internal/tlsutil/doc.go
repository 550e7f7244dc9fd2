// Package tlsutil 提供集中式 TLS 配置：出站 HTTP 客户端（会话代理、LLM judge）
// 与 HTTPS 监听共用 TLS 1.2+、仅 AEAD 密码套件的设置。
package tlsutil
