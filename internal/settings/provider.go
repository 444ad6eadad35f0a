// Package settings は外部連携の設定を settings テーブルと環境変数から解決する。
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hitoshi/pressroom/internal/config"
)

// サービス名
const (
	ServiceRecordStore = "recordstore"
	ServiceSocial      = "social"
	ServiceWebhook     = "webhook"
	ServiceScheduler   = "scheduler"
)

// ErrUnknownSetting は定義されていないサービスまたはキーが指定されたことを示す。
var ErrUnknownSetting = errors.New("未定義の設定キーです")

var knownKeys = map[string][]string{
	ServiceRecordStore: {"enabled", "api_key", "base_id", "table"},
	ServiceSocial:      {"enabled", "account_id", "access_token"},
	ServiceWebhook:     {"enabled", "url"},
	ServiceScheduler:   {"interval", "due_window"},
}

// Store は設定値の永続化先。repository.SettingRepository が実装する。
type Store interface {
	ListByService(ctx context.Context, service string) (map[string]string, error)
	Upsert(ctx context.Context, service, key, value string) error
}

// RecordStore はレコードストア連携の設定。
type RecordStore struct {
	Enabled bool
	APIKey  string
	BaseID  string
	Table   string
}

// Configured は連携に必要な値が揃っているかを返す。
func (c RecordStore) Configured() bool {
	return c.Enabled && c.APIKey != "" && c.BaseID != "" && c.Table != ""
}

// Social はSNS連携の設定。
type Social struct {
	Enabled     bool
	AccountID   string
	AccessToken string
}

// Configured は連携に必要な値が揃っているかを返す。
func (c Social) Configured() bool {
	return c.Enabled && c.AccountID != "" && c.AccessToken != ""
}

// Webhook はWebhook通知の設定。
type Webhook struct {
	Enabled bool
	URL     string
}

// Configured は通知先が設定されているかを返す。
func (c Webhook) Configured() bool {
	return c.Enabled && c.URL != ""
}

// Scheduler は公開スケジューラの設定。
type Scheduler struct {
	Interval  time.Duration
	DueWindow time.Duration // 0 は下限なし
}

// Provider は settings テーブルの値を優先し、未設定のキーは環境変数の値で補う。
// 値は呼び出しごとに読み直すため、運用中の設定変更は次のサイクルから反映される。
type Provider struct {
	store    Store
	defaults *config.Config
	logger   *slog.Logger
}

// NewProvider はProviderを生成する。storeがnilの場合は環境変数の値のみを使う。
func NewProvider(store Store, defaults *config.Config, logger *slog.Logger) *Provider {
	return &Provider{store: store, defaults: defaults, logger: logger}
}

// RecordStore はレコードストア連携の設定を返す。
func (p *Provider) RecordStore(ctx context.Context) RecordStore {
	v := p.load(ctx, ServiceRecordStore)
	return RecordStore{
		Enabled: parseBool(v["enabled"], true),
		APIKey:  valueOr(v["api_key"], p.defaults.RecordStoreAPIKey),
		BaseID:  valueOr(v["base_id"], p.defaults.RecordStoreBaseID),
		Table:   valueOr(v["table"], p.defaults.RecordStoreTable),
	}
}

// Social はSNS連携の設定を返す。
func (p *Provider) Social(ctx context.Context) Social {
	v := p.load(ctx, ServiceSocial)
	return Social{
		Enabled:     parseBool(v["enabled"], true),
		AccountID:   valueOr(v["account_id"], p.defaults.SocialAccountID),
		AccessToken: valueOr(v["access_token"], p.defaults.SocialAccessToken),
	}
}

// Webhook はWebhook通知の設定を返す。
func (p *Provider) Webhook(ctx context.Context) Webhook {
	v := p.load(ctx, ServiceWebhook)
	return Webhook{
		Enabled: parseBool(v["enabled"], true),
		URL:     valueOr(v["url"], p.defaults.WebhookURL),
	}
}

// Scheduler は公開スケジューラの設定を返す。
func (p *Provider) Scheduler(ctx context.Context) Scheduler {
	v := p.load(ctx, ServiceScheduler)
	return Scheduler{
		Interval:  parseDuration(v["interval"], p.defaults.SchedulerInterval),
		DueWindow: parseDuration(v["due_window"], p.defaults.SchedulerDueWindow),
	}
}

// Set は設定値を保存する。未定義のキーは ErrUnknownSetting を返す。
func (p *Provider) Set(ctx context.Context, service, key, value string) error {
	if !isKnown(service, key) {
		return fmt.Errorf("%s.%s: %w", service, key, ErrUnknownSetting)
	}
	if p.store == nil {
		return errors.New("設定ストアが構成されていません")
	}
	if err := p.store.Upsert(ctx, service, key, value); err != nil {
		return fmt.Errorf("設定 %s.%s の保存に失敗しました: %w", service, key, err)
	}
	return nil
}

func (p *Provider) load(ctx context.Context, service string) map[string]string {
	if p.store == nil {
		return nil
	}
	v, err := p.store.ListByService(ctx, service)
	if err != nil {
		p.logger.Warn("設定の読み込みに失敗したため環境変数の値を使用します",
			slog.String("service", service),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return v
}

func isKnown(service, key string) bool {
	for _, k := range knownKeys[service] {
		if k == key {
			return true
		}
	}
	return false
}

func valueOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func parseBool(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
