package social

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/pressroom/internal/model"
)

const (
	// MaxCaptionRunes はキャプションの最大文字数。
	MaxCaptionRunes = 2200
	// FallbackNote は代替画像で投稿したときにキャプションへ追記する注記。
	FallbackNote = "※画像は代替イメージです"
)

// TextConverter は本文HTMLをテキストに変換する。
type TextConverter interface {
	PlainText(rawHTML string) string
}

// BuildCaption はタイトル、説明文、ハッシュタグからキャプションを組み立てる。
// 代替画像で投稿する場合は注記を末尾に加える。注記とハッシュタグは切り詰めの対象外。
func BuildCaption(a *model.Article, text TextConverter, fallback bool) string {
	var head []string
	if title := strings.TrimSpace(a.Title); title != "" {
		head = append(head, title)
	}
	if desc := strings.TrimSpace(text.PlainText(a.Description)); desc != "" {
		head = append(head, desc)
	}

	var tail []string
	if tags := NormalizeHashtags(a.Hashtags); len(tags) > 0 {
		tail = append(tail, strings.Join(tags, " "))
	}
	if fallback {
		tail = append(tail, FallbackNote)
	}

	suffix := strings.Join(tail, "\n\n")
	budget := MaxCaptionRunes
	if suffix != "" {
		budget -= utf8.RuneCountInString(suffix) + 2
	}

	body := truncateRunes(strings.Join(head, "\n\n"), budget)
	switch {
	case body == "":
		return truncateRunes(suffix, MaxCaptionRunes)
	case suffix == "":
		return body
	default:
		return body + "\n\n" + suffix
	}
}

// NormalizeHashtags はカンマまたは空白区切りのタグを "#tag" 形式にし、重複を除く。
func NormalizeHashtags(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '、' || unicode.IsSpace(r)
	})

	seen := make(map[string]struct{}, len(fields))
	tags := make([]string, 0, len(fields))
	for _, f := range fields {
		name := strings.TrimLeft(f, "#＃")
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, "#"+name)
	}
	return tags
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n == 1 {
		return string(runes[:1])
	}
	return strings.TrimRightFunc(string(runes[:n-1]), unicode.IsSpace) + "…"
}
