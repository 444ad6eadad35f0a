package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/hitoshi/pressroom/internal/model"
	"github.com/hitoshi/pressroom/internal/webhook"
)

// EffectFunc は公開後の副作用を1つ実行し、監査ログに残す詳細を返す。
type EffectFunc func(ctx context.Context, a *model.Article) (string, error)

// SideEffect は公開確定後に実行する副作用。
type SideEffect struct {
	Step model.PublishStep
	Run  EffectFunc
}

// EffectOutcome は副作用1件の実行結果。
type EffectOutcome struct {
	Step    model.PublishStep
	Success bool
	Detail  string
	Err     error
}

// runIsolated は副作用を実行する。エラーとパニックは呼び出し元に伝播させず結果として返す。
func runIsolated(ctx context.Context, e SideEffect, a *model.Article, logger *slog.Logger) (out EffectOutcome) {
	out.Step = e.Step

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("公開後処理でパニックが発生しました",
				slog.Int64("article_id", a.ID),
				slog.String("step", string(e.Step)),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			out.Success = false
			out.Err = fmt.Errorf("パニックが発生しました: %v", rec)
			out.Detail = out.Err.Error()
		}
	}()

	detail, err := e.Run(ctx, a)
	out.Detail = detail
	if err != nil {
		out.Err = err
		if out.Detail == "" {
			out.Detail = err.Error()
		} else {
			out.Detail = out.Detail + ": " + err.Error()
		}
		logger.Warn("公開後処理に失敗しました",
			slog.Int64("article_id", a.ID),
			slog.String("step", string(e.Step)),
			slog.String("error", err.Error()),
		)
		return out
	}

	out.Success = true
	return out
}

func (t *Transition) notifyPublished(ctx context.Context, a *model.Article) (string, error) {
	return describeWebhook(t.notifier.Notify(ctx, webhook.ActionPublished, a.ID))
}

func (t *Transition) syncLinks(ctx context.Context, a *model.Article) (string, error) {
	if !a.HasExternalID() {
		return "skipped: リモートレコードなし", nil
	}
	if err := t.reconciler.SyncLinkFields(ctx, a); err != nil {
		return "", err
	}
	return "ok", nil
}

func (t *Transition) postSocial(ctx context.Context, a *model.Article) (string, error) {
	res := t.poster.Run(ctx, a)
	switch {
	case res.Skipped:
		return "skipped", nil
	case res.Success:
		return fmt.Sprintf("media_id=%s tier=%s", res.MediaID, res.Tier), nil
	case res.Err != nil:
		return fmt.Sprintf("tier=%s", res.Tier), res.Err
	default:
		return "", errors.New("SNS投稿の結果が不明です")
	}
}

func describeWebhook(out webhook.Outcome) (string, error) {
	switch {
	case out.Skipped:
		return "skipped", nil
	case out.Delivered:
		return fmt.Sprintf("status=%d delivery=%s", out.StatusCode, out.DeliveryID), nil
	default:
		return fmt.Sprintf("reason=%s delivery=%s", out.Reason, out.DeliveryID), out.Err
	}
}
