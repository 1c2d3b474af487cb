package cardcode

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ============================================================================
// 卡密生成与校验
// ============================================================================
//
// 卡密格式固定为四段：前缀 + 4位年份 + 两组4位大写十六进制，连字符分隔
// 例如：CARD-2024-AB12-CD34
//
// 两组十六进制共 32 位随机熵，单批次内碰撞概率可以忽略；
// 真正的唯一性由存储层的唯一索引兜底，撞库时重新生成一张即可
// ============================================================================

const prefix = "CARD"

var codePattern = regexp.MustCompile(`^CARD-\d{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

// Generate 生成一个新卡密
func Generate(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("生成卡密随机数失败: %w", err)
	}
	return fmt.Sprintf("%s-%04d-%02X%02X-%02X%02X",
		prefix, now.Year(), buf[0], buf[1], buf[2], buf[3]), nil
}

// Normalize 归一化用户输入：去空白并转大写（输入大小写不敏感，存储统一大写）
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid 校验卡密格式，入参应已经过 Normalize
// 格式不符的输入直接拒绝，不必查库
func Valid(code string) bool {
	return codePattern.MatchString(code)
}
