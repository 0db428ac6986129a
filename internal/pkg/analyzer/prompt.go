package analyzer

import "fmt"

const systemPrompt = `You analyze transcripts of customer conversations.
Answer with a single JSON object only, no markdown, with the keys:
"topics": array of strings,
"keyInsights": array of strings,
"actionItems": array of strings,
"sentiment": one of "positive", "negative", "neutral",
"sentimentExplanation": string,
"toneAnalysis": string,
"questions": array of strings,
"painPoints": array of strings,
"featureRequests": array of strings.
Use empty arrays when nothing is found.`

func userPrompt(text string, i, n int) string {
	if n <= 1 {
		return "Transcript:\n" + text
	}
	return fmt.Sprintf("Transcript part %d of %d:\n%s", i+1, n, text)
}
