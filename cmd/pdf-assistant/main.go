package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/pdf-assistant/cmd/pdf-assistant/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "pdf-assistant",
		Usage: "PDF文書を知識源とする会話アシスタント",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "PDFを取り込んでナレッジベースを構築",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:  "url",
						Usage: "PDFのURL（省略時はサンプル文書）",
						Value: commands.DefaultDocumentURL,
					},
				},
				Action: commands.IngestAction,
			},
			{
				Name:  "chat",
				Usage: "ナレッジベースに基づく対話セッションを開始",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:  "url",
						Usage: "PDFのURL（省略時はサンプル文書）",
						Value: commands.DefaultDocumentURL,
					},
					&cli.StringFlag{
						Name:     "user",
						Usage:    "ユーザーID",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "new-run",
						Usage: "既存の会話を再開せず新しい会話を開始",
					},
					&cli.StringFlag{
						Name:  "question",
						Usage: "単発の質問（省略時は対話モード）",
					},
				},
				Action: commands.ChatAction,
			},
			{
				Name:  "runs",
				Usage: "会話履歴管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "ユーザーの会話一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "user",
								Usage:    "ユーザーID",
								Required: true,
							},
						},
						Action: commands.RunsListAction,
					},
					{
						Name:  "show",
						Usage: "会話のトランスクリプトを表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "id",
								Usage:    "Run ID",
								Required: true,
							},
						},
						Action: commands.RunsShowAction,
					},
				},
			},
			{
				Name:  "db",
				Usage: "データベース管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "migrate",
						Usage: "スキーマを適用",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.DBMigrateAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
