package media

import (
	"strings"

	"golang.org/x/net/html"
)

// FirstImage は本文HTML中の最初の img 要素の src を返す。
// data URI は外部連携先に渡せないため対象外とする。
func FirstImage(bodyHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(bodyHTML))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			if string(tn) != "img" || !hasAttr {
				continue
			}

			for {
				key, val, more := tokenizer.TagAttr()
				if strings.EqualFold(string(key), "src") {
					src := strings.TrimSpace(string(val))
					if src != "" && !strings.HasPrefix(strings.ToLower(src), "data:") {
						return src
					}
				}
				if !more {
					break
				}
			}
		}
	}
}
