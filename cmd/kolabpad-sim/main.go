// Command kolabpad-sim is a headless CLI client: it drives a document
// from a terminal/script over a real WebSocket connection, using the
// same session.Manager a browser build wires to Monaco, on the same
// editor.Buffer and native transport that internal/integrationtest
// drives against internal/testserver.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"unicode/utf16"

	"github.com/shiv248/kolabpad-client/internal/protocol"
	"github.com/shiv248/kolabpad-client/internal/transport"
	transportnative "github.com/shiv248/kolabpad-client/internal/transport/native"
	"github.com/shiv248/kolabpad-client/pkg/editor"
	"github.com/shiv248/kolabpad-client/pkg/logger"
	"github.com/shiv248/kolabpad-client/pkg/presence"
	"github.com/shiv248/kolabpad-client/pkg/session"
)

func main() {
	logger.Init()

	url := getEnv("KOLABPAD_URL", "ws://localhost:3030/api/socket/default")
	reconnectMs := getEnvInt("KOLABPAD_RECONNECT_MS", 1000)
	name := getEnv("KOLABPAD_NAME", "sim")

	logger.Info("kolabpad-sim: connecting to %s", url)

	buf := editor.NewBuffer()
	var mgr *session.Manager
	mgr = session.NewManager(url, reconnectMs, func() transport.Socket { return transportnative.New() }, buf, session.Callbacks{
		OnConnected: func(info *protocol.UserInfo) {
			logger.Info("kolabpad-sim: connected, assigned identity")
			mgr.SetInfo(protocol.UserInfo{Name: name, Hue: 180})
		},
		OnDisconnected: func() {
			logger.Info("kolabpad-sim: disconnected, will retry")
		},
		OnDesynchronized: func() {
			logger.Error("kolabpad-sim: desynchronized, exiting")
			os.Exit(1)
		},
		OnError: func(err error) {
			logger.Error("kolabpad-sim: %v", err)
		},
		OnChangeMeta: func(language, visibility string) {
			logger.Debug("kolabpad-sim: meta language=%s visibility=%s", language, visibility)
		},
		OnChangeUsers: func(peers map[uint64]presence.Peer) {
			logger.Debug("kolabpad-sim: %d peers present", len(peers))
		},
	})
	defer mgr.Dispose()

	logger.Info("kolabpad-sim: type a line to append it to the document, or /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "/quit" {
			break
		}
		if line == "/print" {
			fmt.Println(buf.Value())
			continue
		}
		end := len(utf16.Encode([]rune(buf.Value())))
		buf.Type(end, 0, line+"\n")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
