// posegen はセルフィーとポーズ画像から合成写真を1枚生成するコマンドです。
//
//	posegen -selfie me.jpg -pose https://example.com/pose.jpg -prompt "at the beach" -out result.png
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shouni/go-remote-io/pkg/remoteio"
	"go.uber.org/zap"

	"github.com/shouni/gemini-pose-kit/internal/app"
	"github.com/shouni/gemini-pose-kit/internal/config"
	"github.com/shouni/gemini-pose-kit/internal/logger"
	"github.com/shouni/gemini-pose-kit/internal/worker"
	"github.com/shouni/gemini-pose-kit/pkg/domain"
	"github.com/shouni/gemini-pose-kit/pkg/generator"
)

func main() {
	os.Exit(run())
}

func run() int {
	selfie := flag.String("selfie", "", "selfie image (path, http(s)://, gs:// or data: URI); optional")
	pose := flag.String("pose", "", "pose reference image (path, http(s)://, gs:// or data: URI)")
	prompt := flag.String("prompt", "", "scene description for the generated photo")
	out := flag.String("out", "", "output file or gs:// URI; defaults to OUTPUT_DIR/<run id><ext>")
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		log.Printf("設定の読み込みに失敗しました: %v", err)
		return 2
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Printf("ロガーの初期化に失敗しました: %v", err)
		return 1
	}
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.Build(ctx, cfg, appLogger, app.WithLocalFiles())
	if err != nil {
		appLogger.Error("パイプラインの構築に失敗しました", zap.Error(err))
		return 1
	}
	defer func() { _ = pipeline.Close() }()

	var selfieRef domain.ImageRef
	if *selfie != "" {
		selfieRef = domain.NewImageFromURI(*selfie)
	}
	outcome := generator.RunGeneration(ctx, pipeline.Runner, selfieRef, domain.NewImageFromURI(*pose), *prompt, pipeline.Options)

	for _, a := range outcome.Attempts {
		fields := []zap.Field{zap.Int("attempt", a.AttemptNumber), zap.Bool("used_pose_image", a.UsedPoseImage)}
		if a.Err != nil {
			fields = append(fields, zap.String("error", string(*a.Err)))
		}
		if a.Validation != nil {
			if !a.Validation.CollageUnknown {
				fields = append(fields, zap.Bool("is_collage", a.Validation.IsCollage))
			}
			if pm := a.Validation.PersonMatch; pm != nil {
				fields = append(fields, zap.Bool("is_same_person", pm.IsSamePerson), zap.Float64("confidence", pm.Confidence))
			}
		}
		appLogger.Info("試行結果", fields...)
	}

	if !outcome.Succeeded() {
		fmt.Fprintln(os.Stderr, domain.FailureMessage(outcome.Reason))
		appLogger.Warn("生成に失敗しました", zap.String("run_id", outcome.RunID), zap.String("reason", string(outcome.Reason)))
		if outcome.Reason == domain.KindInvalidRequest {
			return 2
		}
		return 1
	}

	path, err := writeImage(ctx, pipeline.Writer, *outcome.Image, *out, cfg.OutputDir, outcome.RunID)
	if err != nil {
		appLogger.Error("生成画像の書き出しに失敗しました", zap.Error(err))
		return 1
	}
	fmt.Println(path)
	return 0
}

// writeImage は生成画像を out に書き出します。out が空なら dir 配下に run id で保存します。
// どちらも gs:// を受け付けます。
func writeImage(ctx context.Context, w remoteio.OutputWriter, img domain.ImageRef, out, dir, runID string) (string, error) {
	if !img.IsInline() {
		// 上流がホストしている画像は URL をそのまま出力する
		if img.URI == "" {
			return "", errors.New("generated image is empty")
		}
		return img.URI, nil
	}
	if out == "" {
		store, err := worker.NewOutputStore(w, dir, "")
		if err != nil {
			return "", err
		}
		return store.Save(ctx, runID, img)
	}
	if err := w.Write(ctx, out, bytes.NewReader(img.Data), img.MimeType); err != nil {
		return "", err
	}
	return out, nil
}
