package docstore

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// ErrNoFrontmatter is returned when a document has no frontmatter block.
var ErrNoFrontmatter = errors.New("no frontmatter")

// Frontmatter is the YAML header of a Markdown document.
type Frontmatter struct {
	Title     string            `yaml:"title"`
	Tags      []string          `yaml:"tags"`
	DependsOn []string          `yaml:"depends_on"`
	Facts     map[string]string `yaml:"facts"`
}

// ParseFrontmatter splits a document into its frontmatter and body.
func ParseFrontmatter(content string) (Frontmatter, string, error) {
	var fm Frontmatter
	text := strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(text, fence) {
		return fm, content, ErrNoFrontmatter
	}
	rest := strings.TrimPrefix(text, fence)
	rest = strings.TrimLeft(rest, " \t")
	if !strings.HasPrefix(rest, "\n") && !strings.HasPrefix(rest, "\r\n") {
		return fm, content, ErrNoFrontmatter
	}
	rest = strings.TrimLeft(rest, "\r\n")

	header, body, ok := cutFence(rest)
	if !ok {
		return fm, content, fmt.Errorf("%w: unterminated frontmatter", ErrInvalidInput)
	}
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return fm, content, fmt.Errorf("%w: frontmatter: %v", ErrInvalidInput, err)
	}
	return fm, body, nil
}

// Facts returns the facts declared in a document's frontmatter. A document
// without frontmatter declares no facts.
func Facts(content string) (map[string]string, error) {
	fm, _, err := ParseFrontmatter(content)
	if errors.Is(err, ErrNoFrontmatter) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if fm.Facts == nil {
		return map[string]string{}, nil
	}
	return fm.Facts, nil
}

func cutFence(s string) (header, body string, ok bool) {
	lines := strings.SplitAfter(s, "\n")
	offset := 0
	for _, line := range lines {
		if strings.TrimRight(line, " \t\r\n") == fence {
			return s[:offset], s[offset+len(line):], true
		}
		offset += len(line)
	}
	return "", "", false
}
