package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var modelEncodings = map[string]string{
	"gpt-4.1":       "o200k_base",
	"gpt-4o":        "o200k_base",
	"o1":            "o200k_base",
	"o3":            "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// TiktokenCounter 基于 tiktoken 的精确计数。
//
// 编码表在首次使用时加载（可能需要下载），加载失败时回退到估算器。
type TiktokenCounter struct {
	model    string
	encoding string

	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback *Estimator
	initErr  error
}

// NewTiktokenCounter 为模型创建计数器，未知模型使用 cl100k_base
func NewTiktokenCounter(model string) *TiktokenCounter {
	enc, ok := encodingFor(model)
	if !ok {
		enc = "cl100k_base"
	}
	return &TiktokenCounter{model: model, encoding: enc, fallback: NewEstimator()}
}

func (t *TiktokenCounter) load() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("load tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
}

// CountTokens 统计 token 数
func (t *TiktokenCounter) CountTokens(text string) (int, error) {
	t.load()
	if t.enc == nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

// Err 返回编码表加载错误（已回退到估算器时非 nil）
func (t *TiktokenCounter) Err() error {
	t.load()
	return t.initErr
}

// Name 返回计数器名称
func (t *TiktokenCounter) Name() string {
	t.load()
	if t.enc == nil {
		return t.fallback.Name()
	}
	return "tiktoken[" + t.encoding + "]"
}
