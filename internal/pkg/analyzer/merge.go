package analyzer

import (
	"strings"

	"github.com/airenas/voxinsight/internal/pkg/persistence"
)

const narrativeSeparator = "\n\n"

// merge combines segment results addressed by their position, nil segments are skipped
func merge(segs []*segment) *persistence.AnalysisData {
	res := &persistence.AnalysisData{}
	lists := []struct {
		to  *[]string
		get func(*persistence.AnalysisData) []string
	}{
		{&res.Topics, func(d *persistence.AnalysisData) []string { return d.Topics }},
		{&res.KeyInsights, func(d *persistence.AnalysisData) []string { return d.KeyInsights }},
		{&res.ActionItems, func(d *persistence.AnalysisData) []string { return d.ActionItems }},
		{&res.Questions, func(d *persistence.AnalysisData) []string { return d.Questions }},
		{&res.PainPoints, func(d *persistence.AnalysisData) []string { return d.PainPoints }},
		{&res.FeatureRequests, func(d *persistence.AnalysisData) []string { return d.FeatureRequests }},
	}
	for _, l := range lists {
		seen := map[string]bool{}
		*l.to = []string{}
		for _, s := range segs {
			if s == nil {
				continue
			}
			for _, v := range l.get(&s.data) {
				if !seen[v] {
					seen[v] = true
					*l.to = append(*l.to, v)
				}
			}
		}
	}

	var expl, tone, raw []string
	for _, s := range segs {
		if s == nil {
			continue
		}
		expl = appendNotEmpty(expl, s.data.SentimentExplanation)
		tone = appendNotEmpty(tone, s.data.ToneAnalysis)
		raw = appendNotEmpty(raw, s.data.Raw)
	}
	res.SentimentExplanation = strings.Join(expl, narrativeSeparator)
	res.ToneAnalysis = strings.Join(tone, narrativeSeparator)
	res.Raw = strings.Join(raw, narrativeSeparator)

	var found bool
	res.Sentiment, found = vote(segs)
	return finalize(res, found)
}

// vote selects the most frequent sentiment, a tie goes to the value seen first
func vote(segs []*segment) (string, bool) {
	counts := map[string]int{}
	order := []string{}
	for _, s := range segs {
		if s == nil || !s.hasSentiment {
			continue
		}
		if counts[s.data.Sentiment] == 0 {
			order = append(order, s.data.Sentiment)
		}
		counts[s.data.Sentiment]++
	}
	if len(order) == 0 {
		return SentimentNeutral, false
	}
	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best, true
}

func appendNotEmpty(to []string, s string) []string {
	if strings.TrimSpace(s) == "" {
		return to
	}
	return append(to, s)
}
