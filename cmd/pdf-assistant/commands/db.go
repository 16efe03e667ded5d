package commands

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// DBMigrateAction はデータベーススキーマを適用するコマンドのアクション
func DBMigrateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Database.Migrate(ctx); err != nil {
		slog.Error("スキーマの適用に失敗しました", "error", err)
		return err
	}

	slog.Info("スキーマを適用しました")
	return nil
}
