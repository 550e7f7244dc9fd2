/*
包 cache 提供基于 Redis 的 JSON 缓存，用于 flag/param 解析结果等
短期数据。

# 核心类型

  - Manager：封装 go-redis 客户端，提供 Get/Set/GetJSON/SetJSON/
    Delete/DeletePrefix，所有键统一加上 KeyPrefix。
  - Config：地址、连接池、默认 TTL 与健康检查间隔，可由
    ConfigFrom(config.RedisConfig) 构建。
  - HitObserver：命中与未命中回调，metrics.Collector 实现了该接口。

# 错误语义

未命中返回 ErrCacheMiss（IsCacheMiss 判断），关闭后的调用返回 ErrClosed。
*/
package cache
