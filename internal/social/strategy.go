package social

import (
	"context"
	"errors"
	"fmt"
)

// コンテナ作成の段階
const (
	TierBinary   = "binary"
	TierURL      = "url"
	TierFallback = "fallback"
)

// ErrFallbackExhausted は全ての段階でコンテナ作成に失敗したことを示す。
var ErrFallbackExhausted = errors.New("全ての方法でメディアコンテナの作成に失敗しました")

// ContainerFunc はメディアコンテナを作成してコンテナIDを返す。
type ContainerFunc func(ctx context.Context, p *post) (string, error)

// ContainerStrategy はコンテナ作成の1段階。
type ContainerStrategy struct {
	Tier   string
	Create ContainerFunc
}

// firstSuccess は戦略を順に試し、最初に成功したコンテナIDと段階を返す。
// 全て失敗した場合は ErrFallbackExhausted と各段階のエラーをまとめて返す。
// onAttempt は各試行の直後に呼ばれる。
func firstSuccess(ctx context.Context, strategies []ContainerStrategy, p *post, onAttempt func(tier string, err error)) (string, string, error) {
	errs := []error{ErrFallbackExhausted}
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		id, err := s.Create(ctx, p)
		if onAttempt != nil {
			onAttempt(s.Tier, err)
		}
		if err == nil {
			return id, s.Tier, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Tier, err))
	}
	return "", "", errors.Join(errs...)
}
