package rag

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Tokenizer 上下文组装用的 token 计数接口。
type Tokenizer interface {
	CountTokens(text string) int
}

// EstimatorTokenizer 基于字符数的 token 估算器，区分 CJK 与 ASCII，
// 比朴素的 len/4 更准确；不需要下载编码数据。
type EstimatorTokenizer struct{}

// NewEstimatorTokenizer 创建估算器。
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

// CountTokens 估算 token 数。
// CJK 字符约 1.5 字符/token，ASCII 约 4 字符/token。
func (e *EstimatorTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

// isCJK 判断是否为 CJK 字符。
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}

// TiktokenTokenizer 基于 tiktoken 编码的精确计数器。
//
// 编码数据懒初始化（首次使用时可能触发下载）；初始化失败时回退到
// 估算器并记录一次警告。
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
	fallback *EstimatorTokenizer
	logger   *zap.Logger
}

// NewTiktokenTokenizer 创建 tiktoken 计数器。encoding 为空时使用
// cl100k_base。
func NewTiktokenTokenizer(encoding string, logger *zap.Logger) *TiktokenTokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenTokenizer{
		encoding: encoding,
		fallback: NewEstimatorTokenizer(),
		logger:   logger,
	}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			t.logger.Warn("tiktoken unavailable, falling back to estimator",
				zap.String("encoding", t.encoding), zap.Error(err))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 返回文本的 token 数。
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Name 返回计数器标识。
func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
