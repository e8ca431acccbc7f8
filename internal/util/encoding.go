package util

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// 终端输出常见的非 UTF-8 编码，按优先级尝试
var terminalEncodings = []encoding.Encoding{
	japanese.ShiftJIS,
	japanese.EUCJP,
	simplifiedchinese.GB18030,
	charmap.ISO8859_1,
}

// DecodeText 将终端字节流解码为 UTF-8 文本。
// 合法 UTF-8 原样返回；否则依次尝试常见编码，全部失败时按原始字节转换。
func DecodeText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	for _, enc := range terminalEncodings {
		if s, ok := decodeWith(enc, b); ok {
			return s
		}
	}
	return string(b)
}

func decodeWith(enc encoding.Encoding, b []byte) (string, bool) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(b), enc.NewDecoder()))
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}
