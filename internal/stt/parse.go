package stt

import (
	"encoding/json"
	"strings"

	"dialogue-transcription-service/internal/models"
)

// vendorResult is one recognition result as providers ship it. Some
// providers put the text in alternatives, others flatten it into the
// result itself.
type vendorResult struct {
	StartTime    float64             `json:"start_time"`
	EndTime      float64             `json:"end_time"`
	Speaker      string              `json:"speaker"`
	Transcript   string              `json:"transcript"`
	Text         string              `json:"text"`
	Alternatives []vendorAlternative `json:"alternatives"`
}

type vendorAlternative struct {
	Content string `json:"content"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

type vendorEnvelope struct {
	Results  []vendorResult `json:"results"`
	Metadata *struct {
		Results []vendorResult `json:"results"`
	} `json:"metadata"`
}

// ParseEvents extracts recognition events from a vendor transcript
// message. Providers disagree on where results live, so three shapes
// are tolerated, checked in order: a top-level results array, a nested
// metadata.results array, and finally the whole message as a single
// result. Results with empty or whitespace-only text are discarded;
// missing speaker attribution defaults to UnknownSpeaker.
func ParseEvents(raw []byte, final bool) []models.RecognitionEvent {
	var env vendorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if len(env.Results) > 0 {
			return resultsToEvents(env.Results, final)
		}
		if env.Metadata != nil && len(env.Metadata.Results) > 0 {
			return resultsToEvents(env.Metadata.Results, final)
		}
	}

	// Bare message: treat the whole payload as a single result.
	var bare vendorResult
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil
	}
	return resultsToEvents([]vendorResult{bare}, final)
}

func resultsToEvents(results []vendorResult, final bool) []models.RecognitionEvent {
	events := make([]models.RecognitionEvent, 0, len(results))
	for _, r := range results {
		text, speaker := r.textAndSpeaker()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if speaker == "" {
			speaker = UnknownSpeaker
		}
		events = append(events, models.RecognitionEvent{
			Final:    final,
			Text:     strings.TrimSpace(text),
			Speaker:  speaker,
			StartSec: r.StartTime,
			EndSec:   r.EndTime,
		})
	}
	return events
}

func (r vendorResult) textAndSpeaker() (string, string) {
	if len(r.Alternatives) > 0 {
		alt := r.Alternatives[0]
		text := alt.Content
		if text == "" {
			text = alt.Text
		}
		speaker := alt.Speaker
		if speaker == "" {
			speaker = r.Speaker
		}
		if text != "" {
			return text, speaker
		}
	}
	text := r.Transcript
	if text == "" {
		text = r.Text
	}
	return text, r.Speaker
}
