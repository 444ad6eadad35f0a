// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrResponseTooLarge はレスポンスが上限サイズを超えたことを示す。
var ErrResponseTooLarge = errors.New("レスポンスサイズが上限を超えています")

// ErrNotImage はレスポンスが画像でないことを示す。
var ErrNotImage = errors.New("レスポンスが画像ではありません")

// allowedSchemes はリモート画像取得で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は事前検証でブロックするネットワーク範囲。
// 接続時のIP検証はsafeurlのDialerフックが行う。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// RemoteImage はリモートから取得した画像。
type RemoteImage struct {
	Data        []byte
	ContentType string
}

// ImageFetcher は記事が参照する外部画像をSSRF対策付きで取得する。
// 記事の画像参照は運用者やチャットボット経由で入力されるため、
// 内部ネットワークへのリクエストに使われないようにする。
type ImageFetcher struct {
	client   *http.Client
	maxSize  int64
	validate func(rawURL string) error
}

// NewImageFetcher はsafeurlのクライアントを使うImageFetcherを生成する。
// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続は
// DNS解決後のIPに対してDialerレベルで拒否される。
func NewImageFetcher(timeout time.Duration, maxSize int64) *ImageFetcher {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &ImageFetcher{
		client:   safeurl.Client(config).Client,
		maxSize:  maxSize,
		validate: ValidateURL,
	}
}

// newImageFetcherWithClient はテスト用に任意のクライアントでImageFetcherを生成する。
// httptestサーバーはループバックで起動するため、事前検証はスキームのみに緩める。
func newImageFetcherWithClient(client *http.Client, maxSize int64) *ImageFetcher {
	return &ImageFetcher{
		client:  client,
		maxSize: maxSize,
		validate: func(rawURL string) error {
			u, err := url.Parse(rawURL)
			if err != nil || !isAllowedScheme(u.Scheme) {
				return fmt.Errorf("disallowed URL: %s", rawURL)
			}
			return nil
		},
	}
}

// Fetch は画像を取得する。URLの事前検証、ステータス、Content-Type、サイズ上限を確認する。
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string) (*RemoteImage, error) {
	if err := f.validate(rawURL); err != nil {
		return nil, fmt.Errorf("画像URLが不正です: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Pressroom/1.0 (+image-fetch)")
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("画像の取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("画像の取得でステータス %d が返されました", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, contentType)
	}

	// 上限+1バイトまで読み、超過を検出する
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("画像の読み取りに失敗しました: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrResponseTooLarge, f.maxSize)
	}

	if contentType == "" {
		contentType = http.DetectContentType(data)
		if !strings.HasPrefix(contentType, "image/") {
			return nil, fmt.Errorf("%w: %s", ErrNotImage, contentType)
		}
	}

	return &RemoteImage{Data: data, ContentType: contentType}, nil
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
// DNS再バインディングはImageFetcherのDialer側の検証で防止される。
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
