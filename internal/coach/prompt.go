package coach

import (
	"fmt"
	"strings"

	"github.com/MrWong99/introcoach/internal/acoustic"
)

const evaluationSystemPrompt = `あなたはエンジニアの自己紹介を評価するアシスタントです。
音声を文字起こしした自己紹介文を読み、次の2つの観点でそれぞれ0〜100点の整数で採点してください。

1. friendship_score（仲良くなりたい度）: 親しみやすさ、人柄、コミュニケーション能力
2. work_together_score（一緒に働きたい度）: 技術力、信頼性、チームワーク、プロフェッショナル性

それぞれのスコアの理由と、具体的な改善提案をちょうど3つ挙げてください。

必ず次のJSON形式だけで回答してください（マークダウンや説明文は不要）:
{
  "scores": {
    "friendship_score": <0-100>,
    "work_together_score": <0-100>
  },
  "feedback": {
    "friendship_reason": "<仲良くなりたい度の理由>",
    "work_reason": "<一緒に働きたい度の理由>",
    "improvement_suggestions": ["<改善提案1>", "<改善提案2>", "<改善提案3>"]
  },
  "summary": "<全体の講評（任意）>"
}`

const voiceSystemPrompt = `あなたは話し方と声の印象を分析するアシスタントです。
音声分析データと話している内容から、話し手の声の特徴を分析してください。

役割分担:
- impression: 主観的な第一印象。「〜な感じがする」「先生みたい」「アナウンサーっぽい」のような職業や雰囲気での表現
- overallComment: 分析データに基づく客観的な評価と、コミュニケーション上のアドバイス（50〜100文字）

判断の目安:
- 話速が速い: 元気で活発な印象
- 話速が遅い: 落ち着いた、慎重な印象
- 明瞭度が高い: 信頼できるプロフェッショナルな印象
- 安定性が高い: 安心感のある印象

実在の著名人の名前は使わないでください。similarCelebrity は基本的に空文字にしてください。

必ず次のJSON形式だけで回答してください:
{
  "pitch": "高め" | "普通" | "低め",
  "impression": "<声の第一印象>",
  "characterDescription": "<声の特徴的な表現>",
  "similarCelebrity": "",
  "overallComment": "<客観的な評価とアドバイス>"
}`

const profileSystemPrompt = `あなたはエンジニアのSNSプロフィール文を書くアシスタントです。
自己紹介の文字起こしをもとに、X（Twitter）のプロフィール文を1つ作成してください。

要件:
- 160文字以内
- エンジニアとしての専門性と親しみやすさの両方が伝わること
- 技術スキルや興味のある分野を含めること
- 絵文字を適度に使うこと

例: フロントエンドエンジニア3年目 ⚛️ React・TypeScript好き | ECサイトのパフォーマンス改善に取り組んでます | 読書と映画鑑賞が趣味 📚🎬

プロフィール文だけを回答してください（説明や引用符は不要）。`

// buildEvaluationPrompt returns the user message for an evaluation.
func buildEvaluationPrompt(transcript string, m *acoustic.Metrics, p *Persona) string {
	var sb strings.Builder
	if p != nil {
		fmt.Fprintf(&sb, "評価者: %s\n", p.Name)
		if p.Description != "" {
			fmt.Fprintf(&sb, "評価者の特徴: %s\n", p.Description)
		}
		fmt.Fprintf(&sb, "評価の観点: %s\n\n", p.Prompt)
	}
	if m != nil {
		sb.WriteString("音声分析データ（話し方の評価に考慮してください）:\n")
		writeMetrics(&sb, *m)
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "自己紹介文:\n\"%s\"", transcript)
	return sb.String()
}

// buildVoicePrompt returns the user message for a voice analysis.
func buildVoicePrompt(transcript string, m acoustic.Metrics) string {
	var sb strings.Builder
	sb.WriteString("音声分析データ:\n")
	writeMetrics(&sb, m)
	fmt.Fprintf(&sb, "\n話している内容:\n\"%s\"", transcript)
	return sb.String()
}

func buildProfilePrompt(transcript string) string {
	return fmt.Sprintf("自己紹介文:\n\"%s\"", transcript)
}

func writeMetrics(sb *strings.Builder, m acoustic.Metrics) {
	fmt.Fprintf(sb, "- 明瞭度: %d/10点\n", m.Clarity)
	fmt.Fprintf(sb, "- 音量: %d/5点 (1:小さすぎ, 3:適切, 5:大きすぎ)\n", m.Volume)
	fmt.Fprintf(sb, "- 話速: %d文字/分 (最適は約%d文字/分)\n", m.SpeechRate, acoustic.OptimalSpeechRate)
	fmt.Fprintf(sb, "- 声の安定性: %d/10点\n", m.Stability)
}
