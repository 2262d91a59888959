package slack

import (
	"fmt"
	"regexp"
	"strings"
)

// Slack's mrkdwn format differs from standard markdown: bold is *text*,
// strikethrough is ~text~, links are <url|text>, and there is no header
// syntax. Tables render as monospaced code blocks since Slack has no
// table support at all.

var (
	reCodeBlock  = regexp.MustCompile("```[\\w]*\\n?([\\s\\S]*?)```")
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reTable      = regexp.MustCompile(`(?m)(?:^\|.+\|$\n?)+`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	reBoldStar   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBoldUnder  = regexp.MustCompile(`__(.+?)__`)
	reStrike     = regexp.MustCompile(`~~(.+?)~~`)
	reHeader     = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	reBullet     = regexp.MustCompile(`(?m)^[-*]\s+`)
)

// ToMrkdwn converts markdown text to Slack's mrkdwn format.
func ToMrkdwn(text string) string {
	if text == "" {
		return ""
	}

	// Protect code spans from the conversions below.
	var codeBlocks []string
	text = reCodeBlock.ReplaceAllStringFunc(text, func(m string) string {
		body := reCodeBlock.FindStringSubmatch(m)[1]
		codeBlocks = append(codeBlocks, body)
		return fmt.Sprintf("\x00CB%d\x00", len(codeBlocks)-1)
	})

	var inlineCodes []string
	text = reInlineCode.ReplaceAllStringFunc(text, func(m string) string {
		body := reInlineCode.FindStringSubmatch(m)[1]
		inlineCodes = append(inlineCodes, body)
		return fmt.Sprintf("\x00IC%d\x00", len(inlineCodes)-1)
	})

	var tables []string
	text = reTable.ReplaceAllStringFunc(text, func(m string) string {
		block := renderTable(m)
		if block == "" {
			return m
		}
		tables = append(tables, block)
		return fmt.Sprintf("\x00TB%d\x00", len(tables)-1)
	})

	// Escape &, <, > before inserting mrkdwn markup that uses them.
	text = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(text)

	text = reLink.ReplaceAllString(text, "<$2|$1>")
	text = reBoldStar.ReplaceAllString(text, "*$1*")
	text = reBoldUnder.ReplaceAllString(text, "*$1*")
	text = reStrike.ReplaceAllString(text, "~$1~")
	text = reHeader.ReplaceAllString(text, "*$1*")
	text = reBullet.ReplaceAllString(text, "• ")

	for i, code := range inlineCodes {
		text = strings.Replace(text, fmt.Sprintf("\x00IC%d\x00", i), "`"+code+"`", 1)
	}
	for i, code := range codeBlocks {
		text = strings.Replace(text, fmt.Sprintf("\x00CB%d\x00", i), "```"+code+"```", 1)
	}
	for i, block := range tables {
		text = strings.Replace(text, fmt.Sprintf("\x00TB%d\x00", i), "```"+block+"```", 1)
	}

	return text
}

// renderTable formats a markdown table as aligned plain text. Returns ""
// when the input does not parse as a table.
func renderTable(tableText string) string {
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(tableText), "\n") {
		stripped := strings.Trim(strings.TrimSpace(line), "|")
		if stripped != "" && strings.Trim(stripped, "-: |") == "" {
			continue // separator row
		}
		cells := strings.Split(stripped, "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return ""
	}

	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	widths := make([]int, cols)
	for i := range rows {
		for len(rows[i]) < cols {
			rows[i] = append(rows[i], "")
		}
		for c, cell := range rows[i] {
			if len(cell) > widths[c] {
				widths[c] = len(cell)
			}
		}
	}

	var lines []string
	for i, row := range rows {
		padded := make([]string, cols)
		for c, cell := range row {
			padded[c] = cell + strings.Repeat(" ", widths[c]-len(cell))
		}
		lines = append(lines, strings.TrimRight(strings.Join(padded, "  "), " "))
		if i == 0 {
			seps := make([]string, cols)
			for c, w := range widths {
				seps[c] = strings.Repeat("-", w)
			}
			lines = append(lines, strings.Join(seps, "  "))
		}
	}
	return strings.Join(lines, "\n")
}
