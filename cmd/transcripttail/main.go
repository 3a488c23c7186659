// Command transcripttail follows the exported transcript topics and
// prints updates as they arrive. Useful for watching a conversation
// without joining the room.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"dialogue-transcription-service/internal/models"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "transcript.partial", "Partial transcript topic")
	topicFinal := flag.String("topic-final", "transcript.final", "Final transcript topic")
	room := flag.String("room", "", "Only show one room (optional)")
	showPartials := flag.Bool("partials", false, "Show partial updates too")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *showPartials {
		go consume(ctx, *brokers, *topicPartial, *room, printPartial)
	}
	go consume(ctx, *brokers, *topicFinal, *room, printFinal)

	log.Printf("Tailing %s (brokers: %s)", *topicFinal, *brokers)
	<-ctx.Done()
}

func consume(ctx context.Context, brokers, topic, room string, print func([]byte)) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	// Only show new messages.
	reader.SetOffsetAt(ctx, time.Now())

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}
		if room != "" && string(msg.Key) != room {
			continue
		}
		print(msg.Value)
	}
}

func printFinal(value []byte) {
	var ev models.TranscriptFinal
	if err := json.Unmarshal(value, &ev); err != nil {
		log.Printf("Bad final event: %v", err)
		return
	}
	log.Printf("%s #%d [%s] %s", ev.RoomName, ev.Seq, ev.Speaker, ev.Text)
}

func printPartial(value []byte) {
	var ev models.TranscriptPartial
	if err := json.Unmarshal(value, &ev); err != nil {
		log.Printf("Bad partial event: %v", err)
		return
	}
	log.Printf("%s  ~ [%s] %s", ev.RoomName, ev.Speaker, ev.Text)
}
