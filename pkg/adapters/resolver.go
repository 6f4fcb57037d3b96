package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
	"github.com/shouni/gemini-pose-kit/pkg/imgutil"

	"github.com/shouni/go-remote-io/pkg/remoteio"
	"go.uber.org/zap"
)

const (
	// DefaultJPEGQuality は圧縮を有効にした場合の既定の JPEG 品質です。
	DefaultJPEGQuality = 75
	// DefaultCacheTTL は取得した画像をキャッシュする既定の期間です。
	DefaultCacheTTL = time.Hour

	cacheKeyPrefix = "posekit:image:"
	opResolve      = "image.resolve"
)

// ResolverOptions は ImageResolver の挙動を調整するオプションです。
type ResolverOptions struct {
	// Compress が true の場合、JPEG に再圧縮して小さくなるときだけ置き換えます。
	Compress bool
	Quality  int
	// MaxEdge が正の場合、長辺がこの値を超える画像を縮小します（Compress 有効時のみ）。
	MaxEdge  int
	CacheTTL time.Duration
	// AllowLocalFiles が true の場合のみローカルパスの読み込みを許可します。
	AllowLocalFiles bool
	// AllowGCS が true の場合のみ gs:// の読み込みを許可します。
	AllowGCS bool
}

// ImageResolver は domain.ImageRef を画像のバイト列と MIME タイプに解決します。
type ImageResolver struct {
	httpClient HTTPClient
	objects    remoteio.InputReader
	cache      ImageCacher
	opts       ResolverOptions
	logger     *zap.Logger
}

// NewImageResolver は依存関係を注入して ImageResolver を生成します。
// objects が nil の場合は Cloud Storage クライアントを持たない remoteio.UniversalInputReader を使います。
// cache が nil の場合はキャッシュしません。
func NewImageResolver(httpClient HTTPClient, objects remoteio.InputReader, cache ImageCacher, opts ResolverOptions, logger *zap.Logger) (*ImageResolver, error) {
	if httpClient == nil {
		return nil, fmt.Errorf("httpClient is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultJPEGQuality
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if objects == nil {
		objects = remoteio.NewUniversalInputReader(nil, nil)
	}
	return &ImageResolver{
		httpClient: httpClient,
		objects:    objects,
		cache:      cache,
		opts:       opts,
		logger:     logger.Named("resolver"),
	}, nil
}

// Resolve は ImageRef の実データを取得します。
// 画像以外のデータは InvalidRequest、取得経路の失敗は UpstreamUnavailable として返します。
func (r *ImageResolver) Resolve(ctx context.Context, ref domain.ImageRef) ([]byte, string, error) {
	if ref.IsZero() {
		return nil, "", domain.Errorf(domain.KindInvalidRequest, opResolve, "画像が指定されていません")
	}
	if err := ctx.Err(); err != nil {
		return nil, "", domain.NewError(domain.KindCancelled, opResolve, err)
	}

	// インラインデータと data URI はキャッシュしない
	if ref.IsInline() {
		return r.finish(ref.Data, ref.MimeType)
	}
	if strings.HasPrefix(ref.URI, "data:") {
		data, mimeType, err := imgutil.DecodeDataURI(ref.URI)
		if err != nil {
			return nil, "", domain.NewError(domain.KindInvalidRequest, opResolve, err)
		}
		return r.finish(data, mimeType)
	}

	key := cacheKeyPrefix + ref.URI
	if r.cache != nil {
		if cached, found := r.cache.Get(ctx, key); found {
			mimeType, err := imgutil.DetectImageMIME(cached)
			if err == nil {
				return cached, mimeType, nil
			}
			r.logger.Warn("キャッシュデータが画像ではないため再取得します", zap.String("uri", ref.URI))
		}
	}

	raw, err := r.fetch(ctx, ref.URI)
	if err != nil {
		return nil, "", err
	}
	data, mimeType, err := r.finish(raw, ref.MimeType)
	if err != nil {
		return nil, "", err
	}

	if r.cache != nil {
		r.cache.Set(ctx, key, data, r.opts.CacheTTL)
	}
	return data, mimeType, nil
}

// fetch は URI のスキームに応じて取得経路を切り替えます。
func (r *ImageResolver) fetch(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://"):
		if err := r.checkURL(uri); err != nil {
			return nil, err
		}
		data, err := r.httpClient.FetchBytes(ctx, uri)
		if err != nil {
			return nil, fetchError(ctx, err)
		}
		return data, nil

	case remoteio.IsGCSURI(uri):
		if !r.opts.AllowGCS {
			return nil, domain.Errorf(domain.KindInvalidRequest, opResolve, "gs:// の読み込みは設定されていません")
		}
		_, object, err := remoteio.ParseGCSURI(uri)
		if err != nil {
			return nil, domain.NewError(domain.KindInvalidRequest, opResolve, err)
		}
		if object == "" || strings.HasSuffix(object, "/") {
			return nil, domain.Errorf(domain.KindInvalidRequest, opResolve, "オブジェクト名がありません: %s", uri)
		}
		return r.read(ctx, uri)

	case remoteio.IsS3URI(uri):
		return nil, domain.Errorf(domain.KindInvalidRequest, opResolve, "s3:// には対応していません")

	default:
		if !r.opts.AllowLocalFiles {
			return nil, domain.Errorf(domain.KindInvalidRequest, opResolve, "ローカルファイルの読み込みは許可されていません")
		}
		return r.read(ctx, strings.TrimPrefix(uri, "file://"))
	}
}

// checkURL は httpkit の SSRF 検証を通します。
// 名前解決の失敗は一時的な障害として UpstreamUnavailable、それ以外の拒否は InvalidRequest です。
func (r *ImageResolver) checkURL(uri string) error {
	safe, err := r.httpClient.IsSafeURL(uri)
	if err == nil && safe {
		if err = rejectUnspecified(uri); err == nil {
			return nil
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.NewError(domain.KindUpstreamUnavailable, opResolve, err)
	}
	r.logger.Warn("SSRFの可能性がある、または不正なURLをブロックしました",
		zap.String("uri", uri), zap.Error(err))
	return domain.Errorf(domain.KindInvalidRequest, opResolve, "許可されていないURLです: %v", err)
}

// rejectUnspecified は 0.0.0.0 と :: を拒否します。securenet はこれらを制限対象にしていません。
func rejectUnspecified(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil && ip.IsUnspecified() {
		return fmt.Errorf("未指定アドレスへのアクセスを検知: %s", ip)
	}
	return nil
}

// read は InputReader からオブジェクトまたはファイルを読み込みます。
// 存在しないものは呼び出し側の誤りとして InvalidRequest を返します。
func (r *ImageResolver) read(ctx context.Context, uri string) ([]byte, error) {
	rc, err := r.objects.Open(ctx, uri)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, domain.NewError(domain.KindInvalidRequest, opResolve, err)
		}
		return nil, fetchError(ctx, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fetchError(ctx, err)
	}
	return data, nil
}

// finish は MIME タイプを検証し、必要に応じて圧縮します。
func (r *ImageResolver) finish(data []byte, declared string) ([]byte, string, error) {
	mimeType, err := imgutil.DetectImageMIME(data)
	if err != nil {
		return nil, "", domain.NewError(domain.KindInvalidRequest, opResolve, err)
	}
	if declared != "" && declared != mimeType {
		r.logger.Debug("宣言されたMIMEタイプと実データが異なります",
			zap.String("declared", declared), zap.String("detected", mimeType))
	}
	if !r.opts.Compress {
		return data, mimeType, nil
	}
	out, outMime := imgutil.ShrinkIfSmaller(data, mimeType, r.opts.Quality, r.opts.MaxEdge)
	return out, outMime, nil
}

func fetchError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return domain.NewError(domain.KindCancelled, opResolve, err)
	}
	return domain.NewError(domain.KindUpstreamUnavailable, opResolve, err)
}
