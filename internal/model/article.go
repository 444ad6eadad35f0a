// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// ArticleStatus は記事の公開状態を表す。
type ArticleStatus string

const (
	// ArticleStatusDraft は下書き状態。
	ArticleStatusDraft ArticleStatus = "draft"
	// ArticleStatusPending は公開待ち状態。
	ArticleStatusPending ArticleStatus = "pending"
	// ArticleStatusPublished は公開済み状態。
	ArticleStatusPublished ArticleStatus = "published"
)

// ArticleSource は記事の作成元システムを表す。
type ArticleSource string

const (
	// ArticleSourceAdmin は管理画面から作成された記事。
	ArticleSourceAdmin ArticleSource = "admin"
	// ArticleSourceRecordStore はレコードストア側で作成され取り込まれた記事。
	ArticleSourceRecordStore ArticleSource = "recordstore"
	// ArticleSourceChatbot はチャットボット経由で作成された記事。
	ArticleSourceChatbot ArticleSource = "chatbot"
)

// Article は公開対象のコンテンツを表す。
// 作成と削除はCRUD層が行い、このサービスはリモートIDと公開状態のみを更新する。
type Article struct {
	ID         int64
	ExternalID string // レコードストア側のレコードID。空文字列は未作成
	Status     ArticleStatus
	Finished   bool
	// Republished は公開済み記事を手動で下書きに戻したことを示す。
	// trueの間はスケジューラの公開対象にならない。
	Republished bool

	ScheduledAt *time.Time
	PublishedAt *time.Time // 初回公開時に1回だけ設定される

	Title           string
	Body            string // HTML
	Description     string
	Hashtags        string // カンマまたは空白区切り
	Featured        bool
	ImagePath       string // メイン画像（/uploads/... または絶対URL）
	SocialImagePath string // SNS投稿用画像
	Author          string
	Source          ArticleSource

	SocialMediaID     string
	SocialPublishedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPublished は記事が公開済みかどうかを返す。
func (a *Article) IsPublished() bool {
	return a.Status == ArticleStatusPublished
}

// HasExternalID はレコードストア側のレコードが存在するかどうかを返す。
func (a *Article) HasExternalID() bool {
	return strings.TrimSpace(a.ExternalID) != ""
}

// Clone は記事のシャローコピーを返す。時刻ポインタは複製する。
func (a *Article) Clone() *Article {
	c := *a
	if a.ScheduledAt != nil {
		t := *a.ScheduledAt
		c.ScheduledAt = &t
	}
	if a.PublishedAt != nil {
		t := *a.PublishedAt
		c.PublishedAt = &t
	}
	if a.SocialPublishedAt != nil {
		t := *a.SocialPublishedAt
		c.SocialPublishedAt = &t
	}
	return &c
}

// PublishStep は公開後に実行される副作用の種別を表す。
type PublishStep string

const (
	PublishStepWebhook  PublishStep = "webhook"
	PublishStepLinkSync PublishStep = "link_sync"
	PublishStepSocial   PublishStep = "social"
)

// PublishLog は公開副作用の実行結果の監査ログ。
type PublishLog struct {
	ID        int64
	ArticleID int64
	Step      PublishStep
	Success   bool
	Detail    string
	CreatedAt time.Time
}
