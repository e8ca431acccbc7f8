package service

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

const (
	tablePadding  = 2
	maxMessageLen = 60
)

// RenderSummary 输出 NF 结果表格与汇总行
func RenderSummary(out io.Writer, r *RunReport) error {
	headers := []string{"NF", "TYPE", "RESULT", "BEFORE", "AFTER", "TIME", "MESSAGE"}
	rows := make([][]string, 0, len(r.Results))
	for _, o := range r.Results {
		rows = append(rows, []string{
			o.NF,
			o.Type,
			string(o.Result),
			string(o.Before),
			string(o.After),
			o.Duration.Round(10 * time.Millisecond).String(),
			runewidth.Truncate(firstLine(o.Message), maxMessageLen, "..."),
		})
	}
	if err := writeTable(out, headers, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n[%s] Total: %d, Success: %d, Failed: %d, Blocked: %d => %s\n",
		r.Mode, r.Total, r.Success, r.Failed, r.Blocked, r.Status)
	return err
}

// RenderOutputs 输出各 NF 的命令结果（show/info/list）
func RenderOutputs(out io.Writer, r *RunReport) error {
	w := bufio.NewWriter(out)
	for _, o := range r.Results {
		if o.Output == "" {
			continue
		}
		fmt.Fprintf(w, "===== %s (%s) =====\n", o.NF, o.Type)
		fmt.Fprintln(w, strings.ReplaceAll(o.Output, "\r\n", "\n"))
	}
	return w.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func writeTable(out io.Writer, headers []string, rows [][]string) error {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); i < len(widths) && w > widths[i] {
				widths[i] = w
			}
		}
	}

	w := bufio.NewWriter(out)
	writeRow := func(row []string) {
		var line strings.Builder
		for i := range headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if i == len(headers)-1 {
				line.WriteString(cell)
				break
			}
			line.WriteString(runewidth.FillRight(cell, widths[i]+tablePadding))
		}
		w.WriteString(strings.TrimRight(line.String(), " "))
		w.WriteString("\n")
	}
	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
	return w.Flush()
}
