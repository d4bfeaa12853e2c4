package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateURLToken はURLセーフなランダム文字列を生成します
// n は元になるランダムバイト数で、0以下の場合は24バイトとします
func GenerateURLToken(n int) (string, error) {
	if n <= 0 {
		n = 24
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	// '=' のパディングや '+' '/' を含まないようにRawURLEncodingを使う
	return base64.RawURLEncoding.EncodeToString(b), nil
}
