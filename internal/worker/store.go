package worker

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/shouni/go-remote-io/pkg/remoteio"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
	"github.com/shouni/gemini-pose-kit/pkg/imgutil"
)

// ImageStore は生成画像を保存し、結果メッセージに載せる URL を返します。
type ImageStore interface {
	Save(ctx context.Context, taskID string, img domain.ImageRef) (string, error)
}

// OutputStore は生成画像を remoteio.OutputWriter 経由で dir 配下に保存します。
// dir は gs://bucket/prefix とローカルディレクトリのどちらでも構いません。
// baseURL が設定されていればファイル名をその配下の URL として返し、無ければ保存先そのものを返します。
type OutputStore struct {
	writer  remoteio.OutputWriter
	dir     string
	baseURL string
}

// NewOutputStore は OutputStore を返します。ローカルディレクトリは絶対パスに解決します。
func NewOutputStore(writer remoteio.OutputWriter, dir, baseURL string) (*OutputStore, error) {
	if writer == nil {
		return nil, fmt.Errorf("output writer is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	switch {
	case remoteio.IsGCSURI(dir):
		bucket, _, err := remoteio.ParseGCSURI(dir)
		if err != nil || bucket == "" {
			return nil, fmt.Errorf("出力先の GCS URI が不正です: %s", dir)
		}
		dir = strings.TrimRight(dir, "/")
	case remoteio.IsS3URI(dir):
		return nil, fmt.Errorf("s3:// の出力先には対応していません: %s", dir)
	default:
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("出力ディレクトリの解決に失敗しました: %w", err)
		}
		dir = abs
	}
	return &OutputStore{writer: writer, dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Save は画像を書き出します。URI しか持たない画像（上流がホストしている画像）はそのまま返します。
func (s *OutputStore) Save(ctx context.Context, taskID string, img domain.ImageRef) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !img.IsInline() {
		if img.URI == "" {
			return "", fmt.Errorf("保存する画像がありません")
		}
		return img.URI, nil
	}

	mimeType := img.MimeType
	if mimeType == "" {
		detected, err := imgutil.DetectImageMIME(img.Data)
		if err != nil {
			return "", err
		}
		mimeType = detected
	}

	name := sanitizeFileName(taskID) + imgutil.ExtensionFor(mimeType)
	location := s.location(name)
	if err := s.writer.Write(ctx, location, bytes.NewReader(img.Data), mimeType); err != nil {
		return "", fmt.Errorf("画像の保存に失敗しました: %w", err)
	}

	if s.baseURL == "" {
		return location, nil
	}
	return s.baseURL + "/" + url.PathEscape(name), nil
}

func (s *OutputStore) location(name string) string {
	if remoteio.IsGCSURI(s.dir) {
		return s.dir + "/" + name
	}
	return filepath.Join(s.dir, name)
}

func sanitizeFileName(taskID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, taskID)
	if clean == "" {
		return "image"
	}
	return clean
}
