/*
Package testutil 提供 kiboserve 测试的共享工具。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup
  - 存储辅助: NewDB / NewStore，基于 glebarez/sqlite 的内存数据库
  - 异步与数据工具: WaitFor / WaitForChannel / MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockProvider（LLM Provider）与 FakeClock
  - testutil/fixtures: 预置 trace、span、agent 等样例数据
*/
package testutil
