// Command sttprobe streams a WAV file through a recognizer adapter
// and prints the resulting transcript events. It exercises the STT
// layer without LiveKit or the HTTP surface.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"dialogue-transcription-service/internal/models"
	"dialogue-transcription-service/internal/observability/logging"
	"dialogue-transcription-service/internal/stt"
	"dialogue-transcription-service/internal/stt/google"
	"dialogue-transcription-service/internal/stt/mock"
	"dialogue-transcription-service/internal/stt/speechmatics"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// 100ms chunks at 16kHz 16-bit mono
const chunkSize = 3200
const chunkInterval = 100 * time.Millisecond

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	provider := flag.String("provider", "mock", "STT provider: speechmatics, google, mock")
	speechmaticsURL := flag.String("speechmatics-url", "wss://eu2.rt.speechmatics.com/v2", "Speechmatics realtime endpoint")
	language := flag.String("language", "en", "Recognition language")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console", TimeFormat: time.RFC3339})

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	sampleRate := readWAVHeader(f)

	cfg := stt.Config{
		Language:       *language,
		SampleRate:     sampleRate,
		EnablePartials: true,
		Diarization:    true,
		MaxDelay:       0.7,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	adapter, err := buildAdapter(ctx, *provider, *speechmaticsURL, cfg)
	if err != nil {
		log.Fatalf("Failed to build %s adapter: %v", *provider, err)
	}

	done := make(chan struct{})
	if err := adapter.Start(ctx, &printer{done: done}); err != nil {
		log.Fatalf("Failed to start recognition: %v", err)
	}

	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	start := time.Now()

	for {
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		if err := adapter.SendAudio(ctx, chunk[:n]); err != nil {
			log.Fatalf("Failed to send audio: %v", err)
		}

		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming
		time.Sleep(chunkInterval)
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(start))
	log.Println("Closing stream, waiting for final transcripts...")

	if err := adapter.Close(); err != nil {
		log.Fatalf("Failed to close adapter: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	log.Println("Stream completed")
}

func buildAdapter(ctx context.Context, provider, speechmaticsURL string, cfg stt.Config) (stt.Adapter, error) {
	switch provider {
	case "google":
		return google.New(ctx, cfg)
	case "speechmatics":
		return speechmatics.New(speechmaticsURL, os.Getenv("SPEECHMATICS_API_KEY"), cfg), nil
	default:
		return mock.New(), nil
	}
}

func readWAVHeader(f *os.File) int {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}

	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	if numChannels != 1 {
		log.Fatal("Only mono audio supported")
	}
	if sampleRate != 16000 {
		log.Printf("Warning: Sample rate is %d Hz, expected 16000 Hz", sampleRate)
	}
	return int(sampleRate)
}

// printer logs recognition events as they arrive.
type printer struct {
	done chan struct{}
}

func (p *printer) OnPartial(ev models.RecognitionEvent) {
	log.Printf("partial  [%s] %s", ev.Speaker, ev.Text)
}

func (p *printer) OnFinal(ev models.RecognitionEvent) {
	log.Printf("final    [%s] %s (%.2fs-%.2fs)", ev.Speaker, ev.Text, ev.StartSec, ev.EndSec)
}

func (p *printer) OnError(err error) {
	log.Printf("stream error: %v", err)
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}
