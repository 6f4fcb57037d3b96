package adapters

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shouni/gemini-pose-kit/pkg/domain"

	"google.golang.org/genai"
)

// PNGの最小構成バイナリ（シグネチャ含む）
var validPng = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00\x90w\x53\xde")

// testPNG はデコード可能な w x h の PNG を作るのだ。
func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// mockHTTPClient は HTTPClient を実装するのだ。
// safeFunc が nil なら全ての URL を安全とみなし、名前解決はしないのだ。
type mockHTTPClient struct {
	fetchFunc func(ctx context.Context, url string) ([]byte, error)
	safeFunc  func(url string) (bool, error)
	calls     int
}

func (m *mockHTTPClient) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	m.calls++
	return m.fetchFunc(ctx, url)
}

func (m *mockHTTPClient) IsSafeURL(url string) (bool, error) {
	if m.safeFunc == nil {
		return true, nil
	}
	return m.safeFunc(url)
}

// mockObjectReader は remoteio.InputReader を実装するのだ。
type mockObjectReader struct {
	objects map[string][]byte
	err     error
	opened  []string
}

func (m *mockObjectReader) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	m.opened = append(m.opened, uri)
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.objects[uri]
	if !ok {
		return nil, fmt.Errorf("オブジェクトが見つかりません (URI: %s): %w", uri, os.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockObjectReader) List(_ context.Context, _ string, _ func(string) error) error {
	return nil
}

// mockCache は ImageCacher インターフェースを実装するのだ。
type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func (m *mockCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *mockCache) Set(_ context.Context, key string, data []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
		m.ttls = make(map[string]time.Duration)
	}
	m.data[key] = data
	m.ttls[key] = ttl
}

// mockSource は ImageSource を実装し、インライン画像はそのまま返すのだ。
type mockSource struct {
	resolveFunc func(ctx context.Context, ref domain.ImageRef) ([]byte, string, error)
	resolved    []domain.ImageRef
}

func (m *mockSource) Resolve(ctx context.Context, ref domain.ImageRef) ([]byte, string, error) {
	m.resolved = append(m.resolved, ref)
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, ref)
	}
	if ref.IsInline() {
		return ref.Data, ref.MimeType, nil
	}
	return validPng, "image/png", nil
}

// mockModels は GeminiModels を実装するのだ。
type mockModels struct {
	generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	calls        int
}

func (m *mockModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.calls++
	return m.generateFunc(ctx, model, contents, config)
}

// imageResponse は画像パーツを1つ含むレスポンスを組み立てるのだ。
func imageResponse(data []byte, mimeType string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here you go"},
				{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			}},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

// textResponse はテキストパーツだけのレスポンスを組み立てるのだ。
func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: parts},
			FinishReason: genai.FinishReasonStop,
		}},
	}
}
