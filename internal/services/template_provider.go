package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Template lookup failures the pipeline must distinguish.
var (
	ErrTemplateNotFound = errors.New("checklist template not found")
	ErrTemplateEmpty    = errors.New("checklist template has no headings")
)

// TemplateTask 模板中的单个检查项
type TemplateTask struct {
	Label string `json:"label"`
}

// TemplateHeading 模板中的分组及其检查项
type TemplateHeading struct {
	Text  string         `json:"text"`
	Tasks []TemplateTask `json:"tasks"`
}

// TemplateProvider fetches the structure of a checklist template: an ordered
// list of headings, each with the checkbox tasks that follow it.
type TemplateProvider interface {
	GetTemplateStructure(ctx context.Context, checklistID string) ([]TemplateHeading, error)
}

var (
	headingRe  = regexp.MustCompile(`(?is)<h[23][^>]*>(.*?)</h[23]>`)
	checkboxRe = regexp.MustCompile(`(?is)<input[^>]*type=["']?checkbox["']?[^>]*>(?:\s*<label[^>]*>)?\s*([^<]+)`)
	tagRe      = regexp.MustCompile(`<[^>]+>`)
)

// FileTemplateProvider 从静态清单文档目录解析模板结构
type FileTemplateProvider struct {
	dir string
}

func NewFileTemplateProvider(dir string) *FileTemplateProvider {
	return &FileTemplateProvider{dir: dir}
}

// GetTemplateStructure parses the checklist document. Headings are <h2>/<h3>
// elements; every checkbox input between one heading and the next becomes a
// task under it. Checkboxes before the first heading are ignored.
func (p *FileTemplateProvider) GetTemplateStructure(ctx context.Context, checklistID string) ([]TemplateHeading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Template ids are plain filenames; refuse anything that escapes the dir.
	name := filepath.Base(filepath.Clean(checklistID))
	if name == "." || name == ".." || name == "" {
		return nil, fmt.Errorf("invalid checklist id %q", checklistID)
	}

	raw, err := os.ReadFile(filepath.Join(p.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}

	headings := parseTemplate(string(raw))
	if len(headings) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTemplateEmpty, name)
	}
	return headings, nil
}

func parseTemplate(doc string) []TemplateHeading {
	matches := headingRe.FindAllStringSubmatchIndex(doc, -1)
	headings := make([]TemplateHeading, 0, len(matches))

	for i, m := range matches {
		text := cleanText(doc[m[2]:m[3]])
		if text == "" {
			continue
		}

		// Tasks live between this heading and the next (or end of document).
		segStart := m[1]
		segEnd := len(doc)
		if i+1 < len(matches) {
			segEnd = matches[i+1][0]
		}

		heading := TemplateHeading{Text: text}
		for _, cb := range checkboxRe.FindAllStringSubmatch(doc[segStart:segEnd], -1) {
			label := cleanText(cb[1])
			if label == "" {
				continue
			}
			heading.Tasks = append(heading.Tasks, TemplateTask{Label: label})
		}
		headings = append(headings, heading)
	}
	return headings
}

func cleanText(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
