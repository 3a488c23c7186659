// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dialogue-transcription-service/internal/models"
	"dialogue-transcription-service/internal/stt"
)

const providerName = "google"

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type Adapter struct {
	cfg    stt.Config
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	cb     stt.Callback
}

// New creates a new Google STT adapter.
func New(ctx context.Context, cfg stt.Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, &stt.ConnectError{Provider: providerName, Err: err}
	}
	return &Adapter{cfg: cfg, client: c}, nil
}

// Start begins a streaming recognition session, sends the initial
// config and spawns the listen loop.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return classify(err)
	}
	a.stream = stream
	a.cb = cb

	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:        speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz: int32(a.cfg.SampleRate),
		LanguageCode:    a.cfg.Language,
	}
	if a.cfg.Diarization {
		recognitionConfig.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
		}
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig,
				InterimResults: a.cfg.EnablePartials,
			},
		},
	})
	if err != nil {
		return classify(err)
	}

	go a.listen()
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the outbound stream; the listen loop ends when the
// server finishes responding.
func (a *Adapter) Close() error {
	if a.stream != nil {
		return a.stream.CloseSend()
	}
	return nil
}

// listen receives transcript responses and invokes callbacks.
func (a *Adapter) listen() {
	for {
		resp, err := a.stream.Recv()
		if err != nil {
			if err != io.EOF && status.Code(err) != codes.Canceled {
				a.cb.OnError(fmt.Errorf("google: stream recv: %w", err))
			}
			return
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			ev := toEvent(r)
			if ev.Text == "" {
				continue
			}
			if r.IsFinal {
				a.cb.OnFinal(ev)
			} else {
				a.cb.OnPartial(ev)
			}
		}
	}
}

// toEvent maps one streaming result onto a recognition event. Speaker
// labels come from word-level diarization tags when present.
func toEvent(r *speechpb.StreamingRecognitionResult) models.RecognitionEvent {
	alt := r.Alternatives[0]

	ev := models.RecognitionEvent{
		Final:   r.IsFinal,
		Text:    alt.Transcript,
		Speaker: stt.UnknownSpeaker,
	}
	if end := r.ResultEndTime; end != nil {
		ev.EndSec = end.AsDuration().Seconds()
	}

	if len(alt.Words) > 0 {
		first, last := alt.Words[0], alt.Words[len(alt.Words)-1]
		if first.StartTime != nil {
			ev.StartSec = first.StartTime.AsDuration().Seconds()
		}
		if last.EndTime != nil {
			ev.EndSec = last.EndTime.AsDuration().Seconds()
		}
		if tag := first.SpeakerTag; tag != 0 {
			ev.Speaker = fmt.Sprintf("S%d", tag)
		}
	}
	return ev
}

// classify wraps connection-class gRPC failures as ConnectError so the
// session controller treats them as fatal.
func classify(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied, codes.Unavailable, codes.DeadlineExceeded:
		return &stt.ConnectError{Provider: providerName, Err: err}
	}
	return fmt.Errorf("google: start stream: %w", err)
}
