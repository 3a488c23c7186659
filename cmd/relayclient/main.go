// Command relayclient attaches to a room's WebSocket relay and prints
// everything the room broadcasts. With -send it also publishes a
// message, which the relay delivers to everyone else in the room.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	server := flag.String("server", "ws://localhost:8000", "Service base URL")
	room := flag.String("room", "", "Room name (required)")
	send := flag.String("send", "", "Optional message to publish after connecting")
	flag.Parse()

	if *room == "" {
		log.Fatal("missing -room")
	}

	url := *server + "/ws/" + *room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", url, err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", url)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Read failed: %v", err)
				return
			}
			log.Printf("<- %s", payload)
		}
	}()

	if *send != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(*send)); err != nil {
			log.Fatalf("Failed to send: %v", err)
		}
		log.Printf("-> %s", *send)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	select {
	case <-done:
	case <-sig:
		log.Println("Interrupted, closing")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
