package social

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hitoshi/pressroom/internal/media"
	"github.com/hitoshi/pressroom/internal/security"
)

//go:embed assets/fallback.png
var defaultFallbackImage []byte

// ErrNoImage は記事に投稿できる画像の参照がないことを示す。
var ErrNoImage = errors.New("記事に画像が設定されていません")

// LocalSource はアップロード済み画像の読み込みと公開URLの解決。media.Resolverが実装する。
type LocalSource interface {
	IsLocal(ref string) bool
	ReadLocal(ref string) (*media.LocalImage, error)
	PublicURL(ref string) string
}

// RemoteFetcher は外部URLの画像を取得する。security.ImageFetcherが実装する。
type RemoteFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*security.RemoteImage, error)
}

// ImageLoader は画像参照からアップロード用の画像を用意する。
type ImageLoader struct {
	local    LocalSource
	remote   RemoteFetcher
	fallback ImageUpload
}

// NewImageLoader はImageLoaderを生成する。
func NewImageLoader(local LocalSource, remote RemoteFetcher, fallback ImageUpload) *ImageLoader {
	return &ImageLoader{
		local:    local,
		remote:   remote,
		fallback: fallback,
	}
}

// Load は参照先の画像を読み込む。ローカル参照はメディアルートから、それ以外はHTTPで取得する。
func (l *ImageLoader) Load(ctx context.Context, ref string) (ImageUpload, error) {
	if ref == "" {
		return ImageUpload{}, ErrNoImage
	}

	if l.local.IsLocal(ref) {
		img, err := l.local.ReadLocal(ref)
		if err != nil {
			return ImageUpload{}, err
		}
		return ImageUpload{Data: img.Data, ContentType: img.ContentType, Filename: img.Filename}, nil
	}

	if !media.IsRemote(ref) {
		return ImageUpload{}, fmt.Errorf("画像参照を解決できません: %s", ref)
	}
	img, err := l.remote.Fetch(ctx, ref)
	if err != nil {
		return ImageUpload{}, err
	}
	return ImageUpload{Data: img.Data, ContentType: img.ContentType, Filename: "image"}, nil
}

// PublicURL は参照の公開URLを返す。
func (l *ImageLoader) PublicURL(ref string) string {
	return l.local.PublicURL(ref)
}

// Fallback は代替画像を返す。
func (l *ImageLoader) Fallback() ImageUpload {
	return l.fallback
}

// LoadFallbackImage は代替画像を読み込む。pathが空の場合は同梱の画像を使う。
func LoadFallbackImage(path string) (ImageUpload, error) {
	if path == "" {
		return ImageUpload{
			Data:        defaultFallbackImage,
			ContentType: "image/png",
			Filename:    "fallback.png",
		}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ImageUpload{}, fmt.Errorf("代替画像の読み込みに失敗しました: %w", err)
	}
	return ImageUpload{
		Data:        data,
		ContentType: media.DetectContentType(path, data),
		Filename:    filepath.Base(path),
	}, nil
}
