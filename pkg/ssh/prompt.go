package ssh

import (
	"bytes"
	"regexp"

	"github.com/nfregctl/nfregctl/internal/util"
)

// lineSep 终端输出的物理行分隔
const lineSep = "\r\n"

// 行首的一个 ESC [ ... 字母 控制序列，例如 \x1b[?7h
var leadingEscape = regexp.MustCompile(`^\x1b\[[^A-Za-z]*[A-Za-z]`)

// ExtractPrompt 从最后一行原始输出中提取提示符：
// 仅剥离行首一个转义序列，其余内容原样保留（包括 # > (Config)# 等后缀）
func ExtractPrompt(raw []byte) string {
	stripped := leadingEscape.ReplaceAll(raw, nil)
	return util.DecodeText(stripped)
}

// lastLine 返回缓冲区按 CRLF 切分后的最后一行
func lastLine(buf []byte) []byte {
	if i := bytes.LastIndex(buf, []byte(lineSep)); i >= 0 {
		return buf[i+len(lineSep):]
	}
	return buf
}

// promptReached 判断累计输出的最后一行是否与已记录的提示符完全相等
func promptReached(buf []byte, prompt string) bool {
	if prompt == "" {
		return false
	}
	return ExtractPrompt(lastLine(buf)) == prompt
}

// stripEchoAndPrompt 去掉首行（命令回显）与末行（提示符），其余行按原始字节用 CRLF 重新拼接；
// 解码只用于提示符比较，输出不做转码
func stripEchoAndPrompt(buf []byte) []byte {
	lines := bytes.Split(buf, []byte(lineSep))
	if len(lines) <= 2 {
		return []byte{}
	}
	return bytes.Join(lines[1:len(lines)-1], []byte(lineSep))
}
