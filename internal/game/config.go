package game

import "golang.org/x/time/rate"

// Config holds the simulation and pacing parameters for a server.
// Movement and rotation speeds are mirrored by the client's prediction
// code; both sides must use identical values or predicted positions
// drift from authoritative ones.
type Config struct {
	// MaxPlayers caps concurrent clients. Joins beyond it are refused.
	MaxPlayers int

	// TickRate is simulation steps per second.
	TickRate int

	// MoveSpeed is tank forward/backward speed in units per second.
	MoveSpeed float32

	// RotateSpeed is hull rotation speed in degrees per second.
	RotateSpeed float32

	// StateInterval is seconds between full game state broadcasts.
	StateInterval float32

	// BulletInterval is seconds between bullet snapshot broadcasts.
	BulletInterval float32

	// StatsInterval is seconds between server stat log lines.
	StatsInterval float32

	// ClientTimeout is seconds of silence before a player is dropped.
	ClientTimeout float32

	// RespawnDelay is seconds a player stays dead before respawning.
	RespawnDelay float32

	// DeathPenalty is the score cost of dying. Score floors at zero.
	DeathPenalty int32

	// EnemySpawnInterval is seconds between enemy spawn attempts.
	EnemySpawnInterval float32

	// MaxPacketsPerTick bounds how many inbound datagrams one tick
	// drains, so a flood cannot stall the simulation.
	MaxPacketsPerTick int

	// InboxSize is the buffered queue between transport callbacks and
	// the tick loop. Overflow drops the datagram, like the OS would.
	InboxSize int

	// JoinRate and JoinBurst rate limit join requests from unknown
	// addresses.
	JoinRate  rate.Limit
	JoinBurst int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MaxPlayers:         100,
		TickRate:           60,
		MoveSpeed:          150,
		RotateSpeed:        200,
		StateInterval:      0.022,
		BulletInterval:     0.033,
		StatsInterval:      5,
		ClientTimeout:      15,
		RespawnDelay:       5,
		DeathPenalty:       100,
		EnemySpawnInterval: 5,
		MaxPacketsPerTick:  200,
		InboxSize:          1024,
		JoinRate:           rate.Limit(2),
		JoinBurst:          5,
	}
}
