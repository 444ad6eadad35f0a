package social

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hitoshi/pressroom/internal/media"
	"github.com/hitoshi/pressroom/internal/metrics"
	"github.com/hitoshi/pressroom/internal/model"
	"github.com/hitoshi/pressroom/internal/settings"
)

// ContainerAPI はメディアコンテナの作成と公開。Clientが実装する。
type ContainerAPI interface {
	CreateImageContainer(ctx context.Context, acct Account, img ImageUpload, caption string) (string, error)
	CreateURLContainer(ctx context.Context, acct Account, imageURL, caption string) (string, error)
	Publish(ctx context.Context, acct Account, creationID string) (string, error)
}

// ConfigSource は投稿先アカウントの設定を返す。settings.Providerが実装する。
type ConfigSource interface {
	Social(ctx context.Context) settings.Social
}

// PostStore は投稿結果を記事に保存する。
type PostStore interface {
	UpdateSocialPost(ctx context.Context, id int64, mediaID string, postedAt time.Time) error
}

// MetricsRecorder はSNS投稿のメトリクスを記録する。
type MetricsRecorder interface {
	RecordSocialContainer(tier, result string)
	RecordSocialPublish(result string)
}

// Result はSNS投稿の結果。
type Result struct {
	Success bool
	Skipped bool
	MediaID string
	Tier    string // コンテナ作成に成功した段階
	Err     error
}

// post は1回の投稿で戦略間で共有する値。
type post struct {
	article  *model.Article
	account  Account
	imageRef string
}

// Saga は記事のSNS投稿を行う。
// コンテナ作成は画像バイナリ、公開URL、代替画像の順に試し、最初に成功したコンテナを公開する。
// 公開に失敗した場合は再試行しない。
type Saga struct {
	api        ContainerAPI
	config     ConfigSource
	images     *ImageLoader
	store      PostStore
	text       TextConverter
	metrics    MetricsRecorder
	logger     *slog.Logger
	now        func() time.Time
	strategies []ContainerStrategy
}

// NewSaga はSagaを生成する。
func NewSaga(
	api ContainerAPI,
	config ConfigSource,
	images *ImageLoader,
	store PostStore,
	text TextConverter,
	m MetricsRecorder,
	logger *slog.Logger,
) *Saga {
	s := &Saga{
		api:     api,
		config:  config,
		images:  images,
		store:   store,
		text:    text,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
	s.strategies = []ContainerStrategy{
		{Tier: TierBinary, Create: s.createFromBinary},
		{Tier: TierURL, Create: s.createFromURL},
		{Tier: TierFallback, Create: s.createFromFallback},
	}
	return s
}

// Run は記事をSNSに投稿する。失敗してもパニックやエラーの送出はせず、結果をResultで返す。
func (s *Saga) Run(ctx context.Context, a *model.Article) (res Result) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		var articleID int64
		if a != nil {
			articleID = a.ID
		}
		s.logger.Error("SNS投稿でパニックが発生しました",
			slog.Int64("article_id", articleID),
			slog.Any("panic", rec),
			slog.String("stack", string(debug.Stack())),
		)
		res = Result{Err: fmt.Errorf("SNS投稿でパニックが発生しました: %v", rec)}
	}()

	cfg := s.config.Social(ctx)
	if !cfg.Configured() {
		s.logger.Info("SNS連携が未設定のため投稿をスキップしました",
			slog.Int64("article_id", a.ID),
		)
		return Result{Skipped: true}
	}
	if a.SocialMediaID != "" {
		s.logger.Info("記事は既にSNSに投稿済みです",
			slog.Int64("article_id", a.ID),
			slog.String("media_id", a.SocialMediaID),
		)
		return Result{Skipped: true, MediaID: a.SocialMediaID}
	}

	p := &post{
		article:  a,
		account:  Account{ID: cfg.AccountID, AccessToken: cfg.AccessToken},
		imageRef: media.SelectImage(a),
	}

	creationID, tier, err := firstSuccess(ctx, s.strategies, p, func(tier string, err error) {
		if err != nil {
			s.logger.Warn("メディアコンテナの作成に失敗しました",
				slog.Int64("article_id", a.ID),
				slog.String("tier", tier),
				slog.String("error", err.Error()),
			)
			s.metrics.RecordSocialContainer(tier, metrics.ResultFailure)
			return
		}
		s.metrics.RecordSocialContainer(tier, metrics.ResultSuccess)
	})
	if err != nil {
		s.logger.Error("SNS投稿を中止しました",
			slog.Int64("article_id", a.ID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordSocialPublish(metrics.ResultFailure)
		return Result{Err: err}
	}

	mediaID, err := s.api.Publish(ctx, p.account, creationID)
	if err != nil {
		s.logger.Error("メディアの公開に失敗しました",
			slog.Int64("article_id", a.ID),
			slog.String("tier", tier),
			slog.String("creation_id", creationID),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordSocialPublish(metrics.ResultFailure)
		return Result{Tier: tier, Err: fmt.Errorf("メディアの公開に失敗しました: %w", err)}
	}

	s.metrics.RecordSocialPublish(metrics.ResultSuccess)
	s.logger.Info("SNSに投稿しました",
		slog.Int64("article_id", a.ID),
		slog.String("tier", tier),
		slog.String("media_id", mediaID),
	)

	if err := s.store.UpdateSocialPost(ctx, a.ID, mediaID, s.now().UTC()); err != nil {
		// 投稿自体は完了しているため結果は成功として返す
		s.logger.Error("SNS投稿結果の保存に失敗しました",
			slog.Int64("article_id", a.ID),
			slog.String("media_id", mediaID),
			slog.String("error", err.Error()),
		)
	}

	return Result{Success: true, MediaID: mediaID, Tier: tier}
}

func (s *Saga) createFromBinary(ctx context.Context, p *post) (string, error) {
	img, err := s.images.Load(ctx, p.imageRef)
	if err != nil {
		return "", err
	}
	return s.api.CreateImageContainer(ctx, p.account, img, BuildCaption(p.article, s.text, false))
}

func (s *Saga) createFromURL(ctx context.Context, p *post) (string, error) {
	if p.imageRef == "" {
		return "", ErrNoImage
	}
	return s.api.CreateURLContainer(ctx, p.account, s.images.PublicURL(p.imageRef), BuildCaption(p.article, s.text, false))
}

func (s *Saga) createFromFallback(ctx context.Context, p *post) (string, error) {
	return s.api.CreateImageContainer(ctx, p.account, s.images.Fallback(), BuildCaption(p.article, s.text, true))
}
