package room

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	soxr "github.com/zaf/resample"
	opus "gopkg.in/hraban/opus.v2"

	"dialogue-transcription-service/internal/models"
	"dialogue-transcription-service/internal/observability/metrics"
	"dialogue-transcription-service/internal/session"
)

const (
	opusSampleRate = 48000
	targetRate     = 16000

	// 20ms of mono PCM at the recognizer rate.
	frameSamples = targetRate / 50
)

// trackReader pulls RTP from one subscribed audio track, decodes the
// Opus payload, downsamples it to the recognizer rate, and emits
// fixed-size PCM frames into the session.
type trackReader struct {
	participant string
	trackID     string
	events      session.RoomEvents

	decoder      *opus.Decoder
	resampler    *soxr.Resampler
	resamplerBuf *bytes.Buffer

	// carryover of resampled samples that did not fill a frame
	remainder []int16

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger  zerolog.Logger
	metrics *metrics.Metrics

	firstPacketLogged bool
}

func newTrackReader(participant, trackID string, events session.RoomEvents, logger zerolog.Logger) (*trackReader, error) {
	decoder, err := opus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	// The resampler writes into the buffer we read back from.
	resamplerBuf := &bytes.Buffer{}
	resampler, err := soxr.New(resamplerBuf, opusSampleRate, targetRate, 1, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &trackReader{
		participant:  participant,
		trackID:      trackID,
		events:       events,
		decoder:      decoder,
		resampler:    resampler,
		resamplerBuf: resamplerBuf,
		remainder:    make([]int16, 0, frameSamples),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
		metrics:      metrics.DefaultMetrics,
	}, nil
}

func (t *trackReader) start(track *webrtc.TrackRemote) {
	t.wg.Add(1)
	go t.run(track)
	t.metrics.AudioSourcesActive.Inc()
}

func (t *trackReader) stop() {
	t.cancel()
	t.wg.Wait()
	if t.resampler != nil {
		t.resampler.Close()
	}
	t.metrics.AudioSourcesActive.Dec()
}

func (t *trackReader) run(track *webrtc.TrackRemote) {
	defer t.wg.Done()

	buf := make([]byte, 1500)
	packet := &rtp.Packet{}
	pcm48k := make([]int16, 960) // 20ms @ 48kHz

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		n, _, err := track.Read(buf)
		if err != nil {
			if t.ctx.Err() == nil {
				t.logger.Warn().Err(err).Msg("RTP read failed")
			}
			return
		}

		if !t.firstPacketLogged {
			t.firstPacketLogged = true
			t.logger.Info().Int("size", n).Msg("First RTP packet received")
		}

		if err := packet.Unmarshal(buf[:n]); err != nil {
			t.logger.Warn().Err(err).Msg("RTP unmarshal failed")
			continue
		}
		if len(packet.Payload) == 0 {
			continue // DTX
		}

		sampleCount, err := t.decoder.Decode(packet.Payload, pcm48k)
		if err != nil {
			if err.Error() == "opus: no data supplied" {
				continue // DTX
			}
			t.logger.Warn().Err(err).Msg("Opus decode failed")
			continue
		}
		if sampleCount == 0 {
			continue
		}

		resampled, err := t.downsample(pcm48k[:sampleCount])
		if err != nil {
			t.logger.Warn().Err(err).Msg("Resample failed")
			continue
		}
		if len(resampled) == 0 {
			continue // resampler still buffering
		}

		t.emitFrames(resampled)
	}
}

// emitFrames chunks samples into fixed frames, carrying the remainder
// over to the next packet.
func (t *trackReader) emitFrames(samples []int16) {
	combined := append(t.remainder, samples...)
	t.remainder = t.remainder[:0]

	for len(combined) >= frameSamples {
		chunk := combined[:frameSamples]
		combined = combined[frameSamples:]

		data := make([]byte, frameSamples*2)
		for i, s := range chunk {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}

		t.metrics.RecordAudioReceived(len(data))
		t.events.OnAudioFrame(&models.AudioFrame{
			Participant: t.participant,
			TrackID:     t.trackID,
			SampleRate:  targetRate,
			Channels:    1,
			Data:        data,
			ReceivedAt:  time.Now(),
		})
	}

	t.remainder = append(t.remainder, combined...)
}

func (t *trackReader) downsample(samples []int16) ([]int16, error) {
	input := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(input[i*2:], uint16(s))
	}

	t.resamplerBuf.Reset()
	if _, err := t.resampler.Write(input); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	out := t.resamplerBuf.Bytes()
	if len(out) == 0 {
		return nil, nil
	}

	result := make([]int16, len(out)/2)
	for i := range result {
		result[i] = int16(binary.LittleEndian.Uint16(out[i*2:]))
	}
	return result, nil
}
