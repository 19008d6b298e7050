// Package text formats help text of CLI commands.
package text

import (
	"strings"
)

// Indentation is the indentation of example lines.
const Indentation = `  `

// LongDesc trims a long description and removes the indentation shared by its lines, so it can be
// written as an indented raw string next to the command.
func LongDesc(s string) string {
	return strings.Join(dedent(s), "\n")
}

// Examples formats examples like LongDesc and indents every line with Indentation.
func Examples(s string) string {
	lines := dedent(s)
	for i, line := range lines {
		if line != "" {
			lines[i] = Indentation + line
		}
	}

	return strings.Join(lines, "\n")
}

func dedent(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	lines := strings.Split(s, "\n")
	for strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}

	prefix := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if prefix < 0 || n < prefix {
			prefix = n
		}
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			lines[i] = ""
			continue
		}
		lines[i] = strings.TrimRight(line[prefix:], " \t")
	}

	return lines
}
