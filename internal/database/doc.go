/*
包 database 负责打开 studio 的关系型存储并管理连接池。

# 概述

Open 根据 config.DatabaseConfig 选择 GORM 方言：默认使用纯 Go 的
glebarez/sqlite，也支持 cgo 版 SQLite、PostgreSQL 与 MySQL。
PoolManager 封装底层 sql.DB 的连接池参数，后台定时探活，并把统计
信息交给 StatsObserver（通常是 Prometheus 指标收集器）。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 在死锁、序列化
失败或 SQLITE_BUSY 时按指数退避重试。
*/
package database
