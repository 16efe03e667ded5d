package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/pdf-assistant/internal/core/conversation"
)

// ChatAction はナレッジベースに基づく対話セッションを開始するコマンドのアクション
func ChatAction(ctx context.Context, cmd *cli.Command) error {
	url := cmd.String("url")
	userID := cmd.String("user")
	newRun := cmd.Bool("new-run")
	question := cmd.String("question")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	// 1. 文書を取り込む（構築済みならそのまま再利用される）
	ingestSvc, err := appCtx.NewIngestionService()
	if err != nil {
		return err
	}

	result, err := ingestSvc.Ingest(ctx, url)
	if err != nil {
		slog.Error("ナレッジベースの準備に失敗しました", "url", url, "error", err)
		return err
	}
	kb := result.KnowledgeBase

	// 2. 会話エンジンを組み立てる
	chatSvc, err := appCtx.NewConversationService()
	if err != nil {
		return err
	}

	// 3. 単発質問モード
	if question != "" {
		return respondOnce(ctx, chatSvc, conversation.RespondParams{
			UserID:          userID,
			KnowledgeBaseID: kb.ID,
			Utterance:       question,
			ForceNewRun:     newRun,
		})
	}

	// 4. 対話モード
	session, err := chatSvc.Resume(ctx, userID, kb.ID, newRun)
	if err != nil {
		return err
	}
	slog.Info("対話セッションを開始しました",
		"user", userID,
		"runID", session.RunID,
		"knowledgeBaseID", kb.ID,
	)
	fmt.Println("質問を入力してください（exit で終了）")

	scanner := bufio.NewScanner(os.Stdin)
	forceNew := false
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		utterance := strings.TrimSpace(scanner.Text())
		if utterance == "exit" || utterance == "quit" {
			break
		}

		err := respondOnce(ctx, chatSvc, conversation.RespondParams{
			UserID:          userID,
			KnowledgeBaseID: kb.ID,
			Utterance:       utterance,
			ForceNewRun:     forceNew,
		})
		forceNew = false
		if err != nil {
			if errors.Is(err, conversation.ErrEmptyUtterance) {
				continue
			}
			return err
		}
	}

	return scanner.Err()
}

func respondOnce(ctx context.Context, svc *conversation.Service, params conversation.RespondParams) error {
	reply, err := svc.Respond(ctx, params)
	if err != nil {
		return err
	}

	fmt.Println(reply.Answer)

	if len(reply.Sources) > 0 {
		fmt.Println("--- 参照元 ---")
		for i, src := range reply.Sources {
			fmt.Printf("[%d] ページ %d（関連度 %.3f）\n", i+1, src.Page, src.Score)
		}
	}
	if reply.Degraded {
		fmt.Println("（注: 参照資料の検索に失敗したため、文書を参照せずに回答しています）")
	}

	return nil
}
