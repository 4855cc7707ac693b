// Command wsclient dumps the raw frames of a webssh session.
// Usage: go run ./cmd/wsclient http://127.0.0.1:8888/ hostname=10.0.0.1 username=alice
package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pseudocoder/wssh/internal/bridge"
	"github.com/pseudocoder/wssh/internal/message"
)

func main() {
	page := "http://127.0.0.1:8888/"
	if len(os.Args) > 1 {
		page = os.Args[1]
	}

	target, err := bridge.BuildURL(page)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	endpoint := target.String()

	// Remaining arguments are handshake fields as name=value.
	query := url.Values{}
	if len(os.Args) > 2 {
		for _, kv := range os.Args[2:] {
			name, value, _ := strings.Cut(kv, "=")
			query.Set(name, value)
		}
	}
	target.RawQuery = query.Encode()

	fmt.Printf("Connecting to %s...\n", endpoint)

	conn, _, err := websocket.DefaultDialer.Dial(target.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println("Connected! Waiting for frames...")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	frameCount := 0

	go func() {
		defer close(done)
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("Read error: %v\n", err)
				}
				return
			}

			frameCount++

			if reason, ok := message.ParseCloseNotice(data); ok {
				fmt.Printf("[%d] close notice reason=%q\n", frameCount, reason)
				continue
			}

			frameType := "text"
			if kind == websocket.BinaryMessage {
				frameType = "binary"
			}
			fmt.Printf("[%d] %s %q\n", frameCount, frameType, data)
		}
	}()

	select {
	case <-done:
		fmt.Println("Connection closed")
	case <-interrupt:
		fmt.Println("Interrupted")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}

	fmt.Printf("Total frames received: %d\n", frameCount)
}
