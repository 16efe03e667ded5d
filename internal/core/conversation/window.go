package conversation

// TokenCounter はテキストのトークン数を数えるインターフェース
type TokenCounter interface {
	CountTokens(text string) int
}

// historyWindow はトランスクリプトからプロンプトに含める直近の履歴を切り出す
//
// まず直近maxTurns件に絞り、tokenLimitが正でcounterが与えられている場合は
// 合計トークン数が上限に収まるまで古いターンから順に落とす。
func historyWindow(transcript []Turn, maxTurns int, tokenLimit int, counter TokenCounter) []Turn {
	if maxTurns <= 0 || len(transcript) == 0 {
		return nil
	}

	window := transcript
	if len(window) > maxTurns {
		window = window[len(window)-maxTurns:]
	}

	if tokenLimit <= 0 || counter == nil {
		return window
	}

	total := 0
	for _, turn := range window {
		total += counter.CountTokens(turn.Content)
	}

	for len(window) > 0 && total > tokenLimit {
		total -= counter.CountTokens(window[0].Content)
		window = window[1:]
	}

	return window
}
