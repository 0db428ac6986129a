package persistence

import (
	"database/sql"
	"time"
)

type (

	//Job table, one row per submitted media file
	Job struct {
		ID                string
		ExternalID        sql.NullString
		OwnerID           string
		FileName          string
		Name              sql.NullString
		Status            string
		AnalysisStatus    string
		TranscriptionText sql.NullString
		AnalysisData      *AnalysisData
		Error             sql.NullString
		Created           time.Time
		Updated           time.Time
	}

	//AnalysisData is structured LLM analysis result stored on a job
	AnalysisData struct {
		Topics               []string `json:"topics"`
		KeyInsights          []string `json:"keyInsights"`
		ActionItems          []string `json:"actionItems"`
		Sentiment            string   `json:"sentiment"`
		SentimentExplanation string   `json:"sentimentExplanation,omitempty"`
		ToneAnalysis         string   `json:"toneAnalysis,omitempty"`
		Questions            []string `json:"questions"`
		PainPoints           []string `json:"painPoints"`
		FeatureRequests      []string `json:"featureRequests"`
		// Raw keeps unparsable model output
		Raw string `json:"raw,omitempty"`
	}
)
