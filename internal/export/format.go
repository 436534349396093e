package export

import (
	"fmt"
	"strings"

	"github.com/yourusername/notion-exporter/internal/notion"
)

// Format は取り出すファイルの種類を表します。
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatFile     Format = "file"
)

var formatOutput = map[Format]struct {
	suffix      string
	contentType string
}{
	FormatCSV:      {suffix: ".csv", contentType: "text/csv; charset=utf-8"},
	FormatMarkdown: {suffix: ".md", contentType: "text/markdown; charset=utf-8"},
	FormatFile:     {contentType: "text/plain; charset=utf-8"},
}

// Selection は ZIP から取り出すエントリの指定です。
type Selection struct {
	Format Format `json:"format"`
	Suffix string `json:"suffix,omitempty"`
}

// NewSelection は format と suffix を検証して Selection を作ります。
// FormatFile の場合のみ suffix が必須です。
func NewSelection(format Format, suffix string) (Selection, error) {
	if _, ok := formatOutput[format]; !ok {
		return Selection{}, fmt.Errorf("unsupported format: %s", format)
	}
	suffix = strings.TrimSpace(suffix)
	if format == FormatFile {
		if suffix == "" {
			return Selection{}, fmt.Errorf("suffix is required for format %s", format)
		}
		return Selection{Format: format, Suffix: suffix}, nil
	}
	return Selection{Format: format}, nil
}

// Predicate はエントリ選択用の述語を返します。
func (s Selection) Predicate() notion.EntryPredicate {
	if s.Format == FormatFile {
		return notion.HasSuffix(s.Suffix)
	}
	return notion.HasSuffix(formatOutput[s.Format].suffix)
}

// ContentType はレスポンスに使う Content-Type です。
func (s Selection) ContentType() string {
	if out, ok := formatOutput[s.Format]; ok {
		return out.contentType
	}
	return "text/plain; charset=utf-8"
}
