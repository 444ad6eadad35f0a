package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// blockBoundary はテキスト化で改行に置き換えるブロック要素の境界。
var blockBoundary = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|h[1-6]|blockquote|pre|tr)>`)

// ContentSanitizerService は記事本文のHTMLを外部連携先に渡せる形に変換する。
type ContentSanitizerService interface {
	// PlainText はHTMLから全てのタグを除去したテキストを返す。
	// 段落や改行などブロック要素の境界は改行として残し、連続する空行は1行にまとめる。
	// 文字参照はデコードされる。
	PlainText(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はタグを全て除去するStrictPolicyでContentSanitizerServiceを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// PlainText はHTMLからタグを除去したテキストを返す。
func (s *contentSanitizer) PlainText(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}

	marked := blockBoundary.ReplaceAllString(rawHTML, "$0\n")
	text := html.UnescapeString(s.policy.Sanitize(marked))

	var lines []string
	blank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = len(lines) > 0
			continue
		}
		if blank {
			lines = append(lines, "")
			blank = false
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
