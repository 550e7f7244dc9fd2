/*
包 migration 管理 studio 数据库的版本化 Schema，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 文件通过 embed.FS 内嵌在 migrations/<dialect>/ 下。
运行时可选择 gorm AutoMigrate（config.Database.AutoMigrate）或本包的
显式迁移；显式迁移额外建立外键级联删除（spans、prompt_versions、
session_messages、eval_cases）。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Steps、Goto、Force、Status 等操作
  - Config：方言、连接串、可选 DriverName（如纯 Go 的 "sqlite"）
  - CLI：`kiboserve migrate` 子命令使用的格式化输出层

# 工厂函数

NewMigratorFromConfig / NewMigratorFromDatabaseConfig / NewMigratorFromURL
从不同配置源构建迁移器。sqlite 与 sqlite3 两种驱动名都映射到 SQLite 方言。
*/
package migration
