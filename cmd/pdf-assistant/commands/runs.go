package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/pdf-assistant/internal/core/conversation"
	"github.com/jinford/pdf-assistant/internal/infra/postgres"
)

// RunsListAction はユーザーの会話一覧を表示するコマンドのアクション
func RunsListAction(ctx context.Context, cmd *cli.Command) error {
	userID := cmd.String("user")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	store := postgres.NewRunRepository(appCtx.Database.Pool)

	runs, err := store.GetRuns(ctx, userID)
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Printf("ユーザー %s の会話はありません\n", userID)
		return nil
	}

	for _, run := range runs {
		fmt.Printf("%s  %s\n", run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// RunsShowAction は会話のトランスクリプトを表示するコマンドのアクション
func RunsShowAction(ctx context.Context, cmd *cli.Command) error {
	rawID := cmd.String("id")
	envFile := cmd.String("env")

	runID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("不正なRun ID: %w", err)
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	store := postgres.NewRunRepository(appCtx.Database.Pool)

	transcript, err := store.GetTranscript(ctx, runID)
	if err != nil {
		return err
	}

	for _, turn := range transcript {
		label := "ユーザー"
		if turn.Role == conversation.RoleAssistant {
			label = "アシスタント"
		}
		fmt.Printf("[%s] %s\n%s\n\n", turn.Timestamp.Format("2006-01-02 15:04:05"), label, turn.Content)
	}
	return nil
}
