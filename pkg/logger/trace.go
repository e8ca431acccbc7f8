package logger

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// TraceRead 记录一次读取循环的完整原始缓冲区（未去除回显与提示符）
func TraceRead(target, cycle string, raw []byte) {
	fields := logrus.Fields{
		"nf":    target,
		"cycle": cycle,
		"bytes": len(raw),
		"raw":   strconv.Quote(string(raw)),
	}
	if trace != nil {
		trace.WithFields(fields).Debug("read cycle")
		return
	}
	if GetLogger().IsLevelEnabled(logrus.DebugLevel) {
		GetLogger().WithFields(fields).Debug("read cycle")
	}
}

// HeadTail 取输出的前后各 n 行，行数不足 2n 时 tail 为空
func HeadTail(output string, n int) (head, tail []string) {
	if n <= 0 {
		n = 5
	}
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return nil, nil
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= 2*n {
		return lines, nil
	}
	return lines[:n], lines[len(lines)-n:]
}

// DebugCommandOutput 在 debug 级别记录命令响应的首尾行
func DebugCommandOutput(target, command, output string, maxLines int) {
	if !GetLogger().IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	head, tail := HeadTail(output, maxLines)
	if head == nil {
		GetLogger().WithField("nf", target).Debugf("Command [%s]: <empty>", command)
		return
	}
	msg := "head: [" + strings.Join(head, " ⟩ ") + "]"
	if tail != nil {
		msg += ", tail: [" + strings.Join(tail, " ⟩ ") + "]"
	}
	GetLogger().WithField("nf", target).Debugf("Command [%s]: %s", command, msg)
}
