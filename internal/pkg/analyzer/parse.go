package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/airenas/voxinsight/internal/pkg/persistence"
	"github.com/airenas/voxinsight/internal/pkg/utils"
)

const (
	// SentimentPositive canonical sentiment value
	SentimentPositive = "positive"
	// SentimentNegative canonical sentiment value
	SentimentNegative = "negative"
	// SentimentNeutral canonical sentiment value, also used when model gives none
	SentimentNeutral = "neutral"

	defaultSentimentExplanation = "Sentiment could not be determined from the transcript."
)

// segment is a parsed answer of one model request
type segment struct {
	data         persistence.AnalysisData
	hasSentiment bool
}

// parse decodes model answer. On failure the answer is kept as raw text
// and a ParseError is returned together with the placeholder result
func parse(resp string) (*segment, error) {
	m, err := decodeObject(resp)
	if err != nil {
		return &segment{data: persistence.AnalysisData{Raw: resp}}, utils.NewParseErr(err)
	}
	res := &segment{}
	res.data.Topics = stringList(m["topics"])
	res.data.KeyInsights = stringList(m["keyInsights"])
	res.data.ActionItems = stringList(m["actionItems"])
	res.data.Questions = stringList(m["questions"])
	res.data.PainPoints = stringList(m["painPoints"])
	res.data.FeatureRequests = stringList(m["featureRequests"])
	res.data.SentimentExplanation = str(m["sentimentExplanation"])
	res.data.ToneAnalysis = str(m["toneAnalysis"])
	label := str(m["sentiment"])
	res.hasSentiment = label != ""
	res.data.Sentiment = Canonical(label)
	return res, nil
}

// decodeObject takes the first complete JSON object found in the answer.
// Text around it, braces included, is ignored
func decodeObject(resp string) (map[string]json.RawMessage, error) {
	var res map[string]json.RawMessage
	err := json.Unmarshal([]byte(resp), &res)
	if err == nil && res != nil {
		return res, nil
	}
	var lastErr error
	for from := strings.Index(resp, "{"); from >= 0; {
		res = nil
		if err := json.NewDecoder(strings.NewReader(resp[from:])).Decode(&res); err == nil && res != nil {
			return res, nil
		} else if err != nil {
			lastErr = err
		}
		next := strings.Index(resp[from+1:], "{")
		if next < 0 {
			break
		}
		from += next + 1
	}
	if lastErr != nil {
		return nil, fmt.Errorf("can't decode extracted JSON: %w", lastErr)
	}
	return nil, fmt.Errorf("no JSON object in response")
}

// Canonical maps a free sentiment label to positive, negative or neutral
func Canonical(label string) string {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, SentimentPositive):
		return SentimentPositive
	case strings.Contains(l, SentimentNegative):
		return SentimentNegative
	}
	return SentimentNeutral
}

func stringList(raw json.RawMessage) []string {
	var res []string
	if len(raw) == 0 || json.Unmarshal(raw, &res) != nil || res == nil {
		return []string{}
	}
	return res
}

func str(raw json.RawMessage) string {
	var res string
	if len(raw) == 0 || json.Unmarshal(raw, &res) != nil {
		return ""
	}
	return strings.TrimSpace(res)
}

// finalize fills defaults for a missing sentiment and nil lists
func finalize(d *persistence.AnalysisData, hasSentiment bool) *persistence.AnalysisData {
	if !hasSentiment {
		d.Sentiment = SentimentNeutral
		if d.SentimentExplanation == "" {
			d.SentimentExplanation = defaultSentimentExplanation
		}
	}
	for _, l := range []*[]string{&d.Topics, &d.KeyInsights, &d.ActionItems, &d.Questions, &d.PainPoints, &d.FeatureRequests} {
		if *l == nil {
			*l = []string{}
		}
	}
	return d
}
