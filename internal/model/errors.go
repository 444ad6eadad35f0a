package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 運用APIのレスポンスに原因カテゴリと対処方法を含める。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, article, scheduler, system
	Action   string // 運用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeArticleNotFound     = "ARTICLE_NOT_FOUND"
	ErrCodeInvalidArticleID    = "INVALID_ARTICLE_ID"
	ErrCodeAlreadyPublished    = "ALREADY_PUBLISHED"
	ErrCodeNotPublished        = "NOT_PUBLISHED"
	ErrCodeSchedulerBusy       = "SCHEDULER_BUSY"
	ErrCodeRecordStoreDisabled = "RECORDSTORE_DISABLED"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnknownSetting      = "UNKNOWN_SETTING"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// Retryable は同じリクエストを時間をおいて再送すれば成功しうるエラーかどうかを返す。
func (e *APIError) Retryable() bool {
	switch e.Code {
	case ErrCodeSchedulerBusy, ErrCodeRateLimited, ErrCodeInternal:
		return true
	default:
		return false
	}
}

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeArticleNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %d", id),
		Category: "article",
		Action:   "記事IDを確認してください。",
	}
}

// NewInvalidArticleIDError は記事IDの形式エラーを生成する。
func NewInvalidArticleIDError(raw string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArticleID,
		Message:  fmt.Sprintf("無効な記事IDです: %s", raw),
		Category: "validation",
		Action:   "記事IDには正の整数を指定してください。",
	}
}

// NewAlreadyPublishedError は公開済み記事に対する公開要求のエラーを生成する。
func NewAlreadyPublishedError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyPublished,
		Message:  fmt.Sprintf("記事は既に公開済みです: %d", id),
		Category: "article",
		Action:   "再公開する場合は先に republish を実行してください。",
	}
}

// NewNotPublishedError は未公開記事に対する操作のエラーを生成する。
func NewNotPublishedError(id int64) *APIError {
	return &APIError{
		Code:     ErrCodeNotPublished,
		Message:  fmt.Sprintf("記事は公開されていません: %d", id),
		Category: "article",
		Action:   "公開済みの記事に対してのみ実行できます。",
	}
}

// NewSchedulerBusyError はスケジューラ実行中のエラーを生成する。
func NewSchedulerBusyError() *APIError {
	return &APIError{
		Code:     ErrCodeSchedulerBusy,
		Message:  "公開スケジューラが実行中です。",
		Category: "scheduler",
		Action:   "現在のサイクルが完了してから再度お試しください。",
	}
}

// NewRecordStoreDisabledError はレコードストア連携が無効な場合のエラーを生成する。
func NewRecordStoreDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeRecordStoreDisabled,
		Message:  "レコードストア連携が設定されていません。",
		Category: "system",
		Action:   "settings テーブルの recordstore 設定を確認してください。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "Authorization ヘッダーに管理トークンを指定してください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエスト数が上限を超えました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディの形式エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewUnknownSettingError は未定義の設定キーのエラーを生成する。
func NewUnknownSettingError(service, key string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownSetting,
		Message:  fmt.Sprintf("未定義の設定キーです: %s.%s", service, key),
		Category: "validation",
		Action:   "recordstore / social / webhook / scheduler の定義済みキーを指定してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。解消しない場合はサーバーログを確認してください。",
	}
}
