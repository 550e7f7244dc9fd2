// Package tokenizer 提供 token 计数：OpenAI 家族模型使用 tiktoken 精确计数，
// 其余模型（或编码表不可用时）按字符估算。评估器用它统计问答的 token 数。
package tokenizer
