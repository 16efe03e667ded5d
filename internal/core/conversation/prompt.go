package conversation

import (
	"fmt"
	"strings"

	"github.com/jinford/pdf-assistant/internal/core/retrieval"
)

// BuildChatPrompt はRAG質問応答用のプロンプトを構築する
// 取得済みチャンクは検索結果の順序のまま参照資料として提示する
func BuildChatPrompt(
	utterance string,
	chunks []retrieval.ScoredChunk,
	history []Turn,
) string {
	var sb strings.Builder

	// システムプロンプトとガイドライン
	sb.WriteString("あなたはPDF文書の内容に基づいて質問に答えるアシスタントです。\n")
	sb.WriteString("以下の参照資料と会話履歴を基に、ユーザーの質問に正確かつ簡潔に回答してください。\n\n")

	sb.WriteString("## 回答のガイドライン\n")
	sb.WriteString("- 参照資料に含まれる情報のみを使用して回答してください\n")
	sb.WriteString("- 回答の根拠となる箇所（ページ番号）を可能な限り明示してください\n")
	sb.WriteString("- 参照資料から判断できない場合は、推測せずにその旨を述べてください\n\n")

	// 参照資料
	sb.WriteString("## 参照資料\n")
	if len(chunks) > 0 {
		for i, chunk := range chunks {
			sb.WriteString(fmt.Sprintf("### [資料 %d] ページ: %d | 関連度: %.3f\n", i+1, chunk.Chunk.Page, chunk.Score))
			sb.WriteString(chunk.Chunk.Content)
			sb.WriteString("\n\n")
		}
	} else {
		sb.WriteString("(該当する参照資料はありません)\n\n")
	}

	// 会話履歴
	sb.WriteString("## 会話履歴\n")
	if len(history) > 0 {
		for _, turn := range history {
			switch turn.Role {
			case RoleUser:
				sb.WriteString("ユーザー: ")
			case RoleAssistant:
				sb.WriteString("アシスタント: ")
			}
			sb.WriteString(turn.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("(これまでの会話はありません)\n\n")
	}

	// ユーザーの質問
	sb.WriteString("## ユーザーの質問\n")
	sb.WriteString(utterance)
	sb.WriteString("\n\n")

	// 回答セクション
	sb.WriteString("## 回答\n")

	return sb.String()
}
