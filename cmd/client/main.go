// Command client is a headless test client for the tank server. It runs
// the full prediction and interpolation stack at 60 Hz and can either
// take keyboard commands from stdin or drive itself with -bot.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ferrumgames/tankserver/internal/client"
	"github.com/ferrumgames/tankserver/internal/transport"
	"github.com/ferrumgames/tankserver/internal/world"
)

const (
	tickRate  = 60
	pulseSecs = 0.5 // how long one keyboard command stays held
)

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	godotenv.Load() // .env is optional

	serverAddr := flag.String("addr", getEnv("SERVER_ADDR", "localhost:9000"), "server address")
	playerName := flag.String("name", "TestPlayer", "player name")
	playerColor := flag.String("color", "green", "tank color")
	network := flag.String("transport", getEnv("SERVER_TRANSPORT", "udp"), "transport: udp or kcp")
	bot := flag.Bool("bot", false, "drive the tank automatically")
	noPrediction := flag.Bool("no-prediction", false, "disable client-side prediction")
	flag.Parse()

	conn, err := transport.Dial(*network, *serverAddr, transport.DefaultConfig())
	if err != nil {
		log.Fatalf("Dial: %v", err)
	}

	cfg := client.DefaultConfig()
	cfg.Name = *playerName
	cfg.Color = *playerColor
	cfg.Prediction = !*noPrediction

	c := client.NewClient(conn, cfg)

	log.Printf("🎮 Connecting to %s as %s...", *serverAddr, *playerName)
	if err := c.Connect(); err != nil {
		log.Fatalf("Connect: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	cmds := make(chan string, 8)
	if !*bot {
		fmt.Println("🎮 Commands: w/a/s/d move, fire, quit. Press Enter to send.")
		go readCommands(cmds)
	}

	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	const dt = float32(1.0) / tickRate
	driver := newBotDriver()
	var held heldInput

	for c.Connected() {
		select {
		case <-sigCh:
			log.Println("🛑 Interrupted")
			if err := c.Close(); err != nil {
				log.Printf("Close: %v", err)
			}
			log.Println("👋 Goodbye!")
			return

		case <-statsTicker.C:
			logStats(c)

		case <-ticker.C:
			var forward, backward, left, right bool
			var aim world.Vec2

			if *bot {
				forward, backward, left, right, aim = driver.decide(c, dt)
			} else {
				drainCommands(cmds, &held, c)
				forward, backward, left, right = held.flags()
				held.age(dt)
				aim = aheadOf(c.Tank(), 200)
			}

			c.Step(forward, backward, left, right, aim, dt)
			c.Update(dt)
			c.SyncAuthoritative()
		}
	}

	log.Println("❎ Connection lost")
	c.Close()
	log.Println("👋 Goodbye!")
}

func logStats(c *client.Client) {
	s := c.Stats()
	t := c.Tank()
	log.Printf("📊 rtt=%.0fms jitter=%.1fms loss=%.1f%% pos=(%.0f,%.0f) hp=%.0f/%.0f score=%d",
		s.AverageRTT, s.Jitter, s.PacketLoss,
		t.Pos.X, t.Pos.Y, t.Health, t.MaxHealth, t.Score)
}

// heldInput keeps a keyboard pulse alive for a fraction of a second so
// a single stdin line moves the tank a visible distance.
type heldInput struct {
	forward, backward, left, right float32
}

func (h *heldInput) flags() (bool, bool, bool, bool) {
	return h.forward > 0, h.backward > 0, h.left > 0, h.right > 0
}

func (h *heldInput) age(dt float32) {
	h.forward -= dt
	h.backward -= dt
	h.left -= dt
	h.right -= dt
}

func drainCommands(cmds <-chan string, held *heldInput, c *client.Client) {
	for {
		select {
		case cmd := <-cmds:
			switch cmd {
			case "w", "up":
				held.forward = pulseSecs
			case "s", "down":
				held.backward = pulseSecs
			case "a", "left":
				held.left = pulseSecs
			case "d", "right":
				held.right = pulseSecs
			case "fire":
				c.Fire()
			case "quit":
				c.Close()
			default:
				log.Printf("⚠️  Unknown command %q", cmd)
			}
		default:
			return
		}
	}
}

func readCommands(cmds chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		cmds <- line
		if line == "quit" {
			return
		}
	}
}

// aheadOf aims a fixed distance along the tank's barrel so idle frames
// keep a stable target.
func aheadOf(t *client.Tank, dist float32) world.Vec2 {
	rad := float64(t.BarrelRotation) * math.Pi / 180
	return world.Vec2{
		X: t.Pos.X + dist*float32(math.Cos(rad)),
		Y: t.Pos.Y + dist*float32(math.Sin(rad)),
	}
}

// botDriver wanders the arena and shoots the nearest enemy.
type botDriver struct {
	rng       *rand.Rand
	turnLeft  bool
	turnRight bool
	turnTime  float32
	fireTime  float32
}

const (
	botFireRange    = 600.0
	botFireCooldown = 0.5
)

func newBotDriver() *botDriver {
	return &botDriver{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (b *botDriver) decide(c *client.Client, dt float32) (forward, backward, left, right bool, aim world.Vec2) {
	tank := c.Tank()
	if tank.Dead {
		return false, false, false, false, tank.Pos
	}

	// Re-roll the steering every couple of seconds.
	b.turnTime -= dt
	if b.turnTime <= 0 {
		b.turnTime = 1.5 + b.rng.Float32()*1.5
		roll := b.rng.Intn(3)
		b.turnLeft = roll == 0
		b.turnRight = roll == 1
	}

	forward = true
	left = b.turnLeft
	right = b.turnRight

	target, dist, found := nearestEnemy(c, tank.Pos)
	if found {
		aim = target
	} else {
		aim = aheadOf(tank, 200)
	}

	b.fireTime -= dt
	if found && dist <= botFireRange && b.fireTime <= 0 {
		c.Fire()
		b.fireTime = botFireCooldown
	}
	return forward, backward, left, right, aim
}

func nearestEnemy(c *client.Client, from world.Vec2) (world.Vec2, float32, bool) {
	var best world.Vec2
	bestDist := float32(math.MaxFloat32)
	found := false
	for _, e := range c.Enemies() {
		d := float32(math.Hypot(float64(e.X-from.X), float64(e.Y-from.Y)))
		if d < bestDist {
			bestDist = d
			best = world.Vec2{X: e.X, Y: e.Y}
			found = true
		}
	}
	return best, bestDist, found
}
