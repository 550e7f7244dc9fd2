/*
Package evaluator 对已记录的 trace 打分。

# 流程

RunEvaluation 先写入 running 状态的 EvalResult，然后从 invocation span
的输入输出中提取问答对：

  - 配置了 Judge 且问答均非空时，调用 LLM 评委（OpenAI 兼容接口）
  - 否则使用启发式打分

无论走哪条路径，span 统计（LLM/工具调用数、错误数、耗时与 LLM 时间
占比）都会合并进 metrics。失败不会向上抛出，而是以 failed 状态与错误
信息写回结果。

# 评委

LLMJudge 基于 llm.Provider，评分被截断到 [0,1] 并保留 4 位小数，
eval_method 为 1.0 表示评委打分，0.0 表示启发式。
*/
package evaluator
