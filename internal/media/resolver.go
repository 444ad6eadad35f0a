// Package media は記事が参照する画像の解決を提供する。
// 画像参照はアップロード済みファイルのパス（/uploads/...）または外部の絶対URLのどちらか。
package media

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hitoshi/pressroom/internal/model"
)

// UploadsPrefix はアップロード済みファイルが公開されるURLパスの接頭辞。
const UploadsPrefix = "/uploads/"

// ErrNotLocal は参照がローカルのアップロードファイルでないことを示す。
var ErrNotLocal = errors.New("ローカルの画像参照ではありません")

// LocalImage はメディアルートから読み込んだ画像。
type LocalImage struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Resolver は画像参照を公開URLとローカルファイルに解決する。
type Resolver struct {
	baseURL string
	root    string
}

// NewResolver はResolverを生成する。baseURLは末尾スラッシュなし、rootはアップロード先ディレクトリ。
func NewResolver(baseURL, root string) *Resolver {
	return &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		root:    root,
	}
}

// IsRemote は参照がhttp(s)の絶対URLかを返す。
func IsRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// PublicURL は外部から取得可能な画像URLを返す。
// ローカル参照はBASE_URLを前置し、絶対URLはそのまま返す。空の参照には空文字列を返す。
func (r *Resolver) PublicURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || IsRemote(ref) {
		return ref
	}
	return r.baseURL + "/" + strings.TrimLeft(ref, "/")
}

// relativePath はローカル参照のメディアルートからの相対パスを返す。
// 自サイトの絶対URLもローカル参照として扱う。
func (r *Resolver) relativePath(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if IsRemote(ref) {
		if r.baseURL == "" || !strings.HasPrefix(ref, r.baseURL+"/") {
			return "", false
		}
		ref = strings.TrimPrefix(ref, r.baseURL)
	}
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}

	p := "/" + strings.TrimLeft(ref, "/")
	if !strings.HasPrefix(p, UploadsPrefix) {
		return "", false
	}
	// ".." でメディアルート外を指す参照を除く
	cleaned := path.Clean(p)
	if !strings.HasPrefix(cleaned, UploadsPrefix) {
		return "", false
	}
	return strings.TrimPrefix(cleaned, UploadsPrefix), true
}

// IsLocal は参照がメディアルート配下のファイルを指すかを返す。
func (r *Resolver) IsLocal(ref string) bool {
	_, ok := r.relativePath(ref)
	return ok
}

// ReadLocal はローカル参照の画像ファイルを読み込む。
func (r *Resolver) ReadLocal(ref string) (*LocalImage, error) {
	rel, ok := r.relativePath(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLocal, ref)
	}

	fullPath := filepath.Join(r.root, filepath.FromSlash(rel))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("画像ファイルの読み込みに失敗しました: %w", err)
	}

	return &LocalImage{
		Data:        data,
		ContentType: DetectContentType(fullPath, data),
		Filename:    filepath.Base(fullPath),
	}, nil
}

// DetectContentType は拡張子から、判定できなければ内容からContent-Typeを返す。
func DetectContentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// SelectImage はSNS投稿に使う画像参照を選ぶ。
// SNS用画像、メイン画像、本文中の最初の画像の順に探し、見つからなければ空文字列を返す。
func SelectImage(a *model.Article) string {
	if ref := strings.TrimSpace(a.SocialImagePath); ref != "" {
		return ref
	}
	if ref := strings.TrimSpace(a.ImagePath); ref != "" {
		return ref
	}
	return FirstImage(a.Body)
}
