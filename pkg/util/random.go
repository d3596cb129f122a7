package util

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// ShareCodeAlphabet share code symbols, without the look-alikes I, O, 0 and 1
// ShareCodeAlphabet 邀请码字符集，去除易混淆的 I、O、0、1
const ShareCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// ShareCodeLength share code length
const ShareCodeLength = 8

// GenerateShareCode returns a random share code drawn from crypto/rand
// GenerateShareCode 使用 crypto/rand 生成随机邀请码
func GenerateShareCode() (string, error) {
	return RandomString(ShareCodeAlphabet, ShareCodeLength)
}

// RandomString returns n symbols drawn uniformly from alphabet
// RandomString 从字符集中均匀抽取 n 个字符
func RandomString(alphabet string, n int) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

// NormalizeShareCode trims and upper-cases a user supplied code
// NormalizeShareCode 去除空白并转为大写
func NormalizeShareCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsShareCode reports whether code has the share code shape
func IsShareCode(code string) bool {
	if len(code) != ShareCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(ShareCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
