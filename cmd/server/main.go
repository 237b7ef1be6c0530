// Command server runs the authoritative tank game server on UDP or KCP.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ferrumgames/tankserver/internal/game"
	"github.com/ferrumgames/tankserver/internal/transport"
)

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	godotenv.Load() // .env is optional

	addr := flag.String("addr", getEnv("SERVER_ADDR", ":9000"), "listen address")
	network := flag.String("transport", getEnv("SERVER_TRANSPORT", "udp"), "transport: udp or kcp")
	maxPlayers := flag.Int("max-players", 0, "max concurrent players (0 = default)")
	flag.Parse()

	if *maxPlayers == 0 {
		if v, err := strconv.Atoi(getEnv("MAX_PLAYERS", "0")); err == nil {
			*maxPlayers = v
		}
	}

	log.Println("🎮 TankServer starting...")

	cfg := game.DefaultConfig()
	if *maxPlayers > 0 {
		cfg.MaxPlayers = *maxPlayers
	}

	t, err := transport.New(*network, transport.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to create transport: %v", err)
	}

	// The broadcaster needs the engine's player table and the engine needs
	// the broadcaster, so bind the state after construction.
	b := game.NewTransportBroadcaster(t.SendUnreliable)
	eng := game.NewEngine(cfg, b)
	b.Bind(eng.State())

	t.OnMessage(func(addr string, data []byte, reliable bool) {
		eng.HandlePacket(addr, data)
	})

	t.OnConnect(func(addr string) {
		log.Printf("✅ Client connected: %s", addr)
	})

	t.OnDisconnect(func(addr string) {
		log.Printf("❎ Client disconnected: %s", addr)
	})

	log.Printf("🎧 Listening on %s %s", *network, *addr)
	if err := t.Listen(*addr); err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	eng.Start()
	log.Printf("✅ Server ready (tick %d Hz, max %d players)", cfg.TickRate, cfg.MaxPlayers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("🛑 Shutting down...")
	eng.Stop()
	if err := t.Close(); err != nil {
		log.Printf("Error closing transport: %v", err)
	}
	log.Println("👋 Bye!")
}
