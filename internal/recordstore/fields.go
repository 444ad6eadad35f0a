package recordstore

import (
	"time"

	"github.com/hitoshi/pressroom/internal/model"
)

// リモートテーブルのフィールド名
const (
	FieldName           = "Name"
	FieldBody           = "Body"
	FieldDescription    = "Description"
	FieldHashtags       = "Hashtags"
	FieldFeatured       = "Featured"
	FieldAuthor         = "Author"
	FieldStatus         = "Status"
	FieldScheduledAt    = "Scheduled At"
	FieldPublishedAt    = "Published At"
	FieldSource         = "Source"
	FieldLocalID        = "Local ID"
	FieldImageURL       = "Image URL"
	FieldSocialImageURL = "Social Image URL"
)

// TextConverter は本文HTMLをテキストに変換する。
type TextConverter interface {
	PlainText(rawHTML string) string
}

// articleFields は記事をリモートのフィールドに対応付ける。
// 画像URLのフィールドはテーブルによって存在しないため、SyncLinkFieldsで個別に送る。
func articleFields(a *model.Article, text TextConverter) Fields {
	return Fields{
		FieldName:        a.Title,
		FieldBody:        text.PlainText(a.Body),
		FieldDescription: text.PlainText(a.Description),
		FieldHashtags:    a.Hashtags,
		FieldFeatured:    a.Featured,
		FieldAuthor:      a.Author,
		FieldStatus:      string(a.Status),
		FieldScheduledAt: formatTime(a.ScheduledAt),
		FieldPublishedAt: formatTime(a.PublishedAt),
		FieldSource:      string(a.Source),
		FieldLocalID:     a.ID,
	}
}

// formatTime は日時をRFC3339(UTC)で返す。nilはフィールドを空にするためnullとして送る。
func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
