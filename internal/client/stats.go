package client

import "math"

// History caps for connection statistics.
const (
	rttHistorySize  = 30
	sentHistorySize = 100
	seqHistorySize  = 200

	// maxPlausibleRTT rejects samples distorted by clock jumps.
	maxPlausibleRTT = 10000
)

// Stats is a point-in-time summary of connection quality.
type Stats struct {
	Sent           uint64
	Received       uint64
	MinRTT         float32
	MaxRTT         float32
	AverageRTT     float32
	AverageLatency float32
	Jitter         float32
	PacketLoss     float32
	PacketsLost    int64
	OutOfOrder     uint64
}

type sentPacket struct {
	seq      uint32
	sentTime int64
}

// netStats tracks RTT, jitter, loss, and server sequence ordering for
// one connection. Not safe for concurrent use; the client touches it
// only from its tick loop.
type netStats struct {
	sent     uint64
	received uint64

	rtt    []float32
	minRTT float32
	maxRTT float32
	avgRTT float32
	jitter float32

	pending []sentPacket

	seenSeqs   map[uint32]bool
	highestSeq uint32
	outOfOrder uint64
}

func newNetStats() *netStats {
	return &netStats{
		minRTT:   math.MaxFloat32,
		seenSeqs: make(map[uint32]bool),
	}
}

// recordSent tracks an outgoing packet for RTT matching.
func (n *netStats) recordSent(seq uint32, sentTime int64) {
	n.sent++
	n.pending = append(n.pending, sentPacket{seq: seq, sentTime: sentTime})
	if len(n.pending) > sentHistorySize {
		n.pending = n.pending[1:]
	}
}

func (n *netStats) recordReceived() {
	n.received++
}

// addRTT folds one round-trip sample into the running statistics.
// Implausible samples are discarded and reported false.
func (n *netStats) addRTT(rtt float32) bool {
	if rtt < 0 || rtt > maxPlausibleRTT {
		return false
	}

	n.rtt = append(n.rtt, rtt)
	if len(n.rtt) > rttHistorySize {
		n.rtt = n.rtt[1:]
	}

	if rtt < n.minRTT {
		n.minRTT = rtt
	}
	if rtt > n.maxRTT {
		n.maxRTT = rtt
	}

	var total float32
	for _, r := range n.rtt {
		total += r
	}
	n.avgRTT = total / float32(len(n.rtt))

	// Jitter is the standard deviation over the sample window.
	if len(n.rtt) > 1 {
		var variance float32
		for _, r := range n.rtt {
			d := r - n.avgRTT
			variance += d * d
		}
		n.jitter = float32(math.Sqrt(float64(variance / float32(len(n.rtt)))))
	}
	return true
}

// resolvePing drops the matching sent-packet record, if still tracked.
func (n *netStats) resolvePing(seq uint32) {
	for i := range n.pending {
		if n.pending[i].seq == seq {
			n.pending = append(n.pending[:i], n.pending[i+1:]...)
			return
		}
	}
}

// recordSequence notes a server sequence number and reports whether it
// arrived out of order, meaning a duplicate or behind the highest seen.
func (n *netStats) recordSequence(seq uint32) bool {
	outOfOrder := n.seenSeqs[seq] || seq < n.highestSeq
	if outOfOrder {
		n.outOfOrder++
	}

	n.seenSeqs[seq] = true
	if seq > n.highestSeq {
		n.highestSeq = seq
	}

	if len(n.seenSeqs) > seqHistorySize {
		var floor uint32
		if n.highestSeq > seqHistorySize {
			floor = n.highestSeq - seqHistorySize
		}
		for s := range n.seenSeqs {
			if s < floor {
				delete(n.seenSeqs, s)
			}
		}
	}
	return outOfOrder
}

// snapshot returns the current summary. Loss is estimated from the
// send/receive imbalance; server broadcasts usually outnumber sends, so
// the estimate floors at zero rather than going negative.
func (n *netStats) snapshot() Stats {
	s := Stats{
		Sent:           n.sent,
		Received:       n.received,
		MaxRTT:         n.maxRTT,
		AverageRTT:     n.avgRTT,
		AverageLatency: n.avgRTT / 2,
		Jitter:         n.jitter,
		OutOfOrder:     n.outOfOrder,
	}
	if len(n.rtt) > 0 {
		s.MinRTT = n.minRTT
	}
	if n.sent > n.received {
		s.PacketsLost = int64(n.sent - n.received)
		s.PacketLoss = float32(s.PacketsLost) / float32(n.sent) * 100
	}
	return s
}
