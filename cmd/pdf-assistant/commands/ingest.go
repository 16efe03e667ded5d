package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/pdf-assistant/internal/core/ingestion"
)

// IngestAction はPDFを取り込んでナレッジベースを構築するコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	slog.Info("PDFインジェストを開始", "url", url)

	svc, err := appCtx.NewIngestionService()
	if err != nil {
		return err
	}

	result, err := svc.Ingest(ctx, url)
	if err != nil {
		if errors.Is(err, ingestion.ErrKnowledgeBaseLoading) {
			slog.Warn("同じURLのインジェストが進行中です", "url", url)
			return err
		}
		slog.Error("PDFインジェストに失敗しました", "url", url, "error", err)
		return err
	}

	if result.Reused {
		slog.Info("構築済みのナレッジベースを再利用しました",
			"knowledgeBaseID", result.KnowledgeBase.ID,
			"url", url,
		)
		return nil
	}

	slog.Info("PDFインジェストが完了しました",
		"knowledgeBaseID", result.KnowledgeBase.ID,
		"pages", result.Pages,
		"chunks", result.Chunks,
		"duration", result.Duration,
	)
	return nil
}
