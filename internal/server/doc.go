/*
包 server 管理 HTTP/HTTPS 服务器的生命周期。

# 核心类型

  - Manager：封装 net/http.Server，提供 Start（非阻塞）、Run（阻塞到
    context 取消）、Shutdown（带超时的优雅关闭）与 Errors 异步错误通道。
  - Config：监听地址、读写与空闲超时、关闭超时以及可选 TLS 配置；
    ConfigFrom 从 config.ServerConfig 构建，证书经 tlsutil 加载。

kiboserve 为 REST API 与 Prometheus /metrics 各启动一个 Manager。
*/
package server
