package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// 房間代碼的字母表，排除容易混淆的 0/O、1/I/L
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// RoomCodeLength 是房間代碼的長度
const RoomCodeLength = 6

// GenerateRoomCode 產生一個 6 碼房間代碼（一律大寫）
// 唯一性由呼叫端比對現有啟用房間後保證
func GenerateRoomCode() (string, error) {
	buf := make([]byte, RoomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate room code: %w", err)
	}

	var b strings.Builder
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}

// NormalizeRoomCode 把用戶輸入的代碼正規化成儲存格式（大寫、去空白）
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
