package util

import (
	"crypto/rand"
	"encoding/base64"
	mrand "math/rand"
	"strings"
)

func CreateRandStr(length int) (string, error) {
	// 指定した長さのバイトを生成
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// PickOne returns a random element, or the zero value for an empty slice.
func PickOne[S any](s []S) S {
	var zero S
	if len(s) == 0 {
		return zero
	}
	return s[mrand.Intn(len(s))]
}

// NormalizeAnswer trims, lowercases and strips surrounding quotes and
// punctuation so "Keyboard." and keyboard compare equal.
func NormalizeAnswer(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`.,!?;: ")
	return strings.ToLower(s)
}
