package clients

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SimulatedMessagingClient stands in for the messaging service in local
// development. It sleeps for a short latency and fails at a configured rate.
type SimulatedMessagingClient struct {
	mu          sync.Mutex
	successRate float64 // 0.0 to 1.0
	rand        *rand.Rand
	minLatency  time.Duration
	maxLatency  time.Duration
	log         zerolog.Logger
}

// NewSimulatedMessagingClient creates a simulated client
func NewSimulatedMessagingClient(successRate float64, log zerolog.Logger) *SimulatedMessagingClient {
	return &SimulatedMessagingClient{
		successRate: clampRate(successRate),
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		minLatency:  50 * time.Millisecond,
		maxLatency:  200 * time.Millisecond,
		log:         log.With().Str("client", "messaging-simulated").Logger(),
	}
}

// Schedule simulates submitting one message
func (s *SimulatedMessagingClient) Schedule(ctx context.Context, in ScheduleInput) error {
	s.mu.Lock()
	latency := s.minLatency
	if spread := s.maxLatency - s.minLatency; spread > 0 {
		latency += time.Duration(s.rand.Int63n(int64(spread)))
	}
	success := s.rand.Float64() < s.successRate
	reason := simulatedFailures[s.rand.Intn(len(simulatedFailures))]
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
	}

	if !success {
		return fmt.Errorf("failed to send %s to %s: %s", in.Channel, in.RecipientID, reason)
	}
	s.log.Debug().Str("recipient_id", in.RecipientID).Str("channel", string(in.Channel)).Dur("latency", latency).Msg("simulated message scheduled")
	return nil
}

// SetSuccessRate updates the success rate (for testing)
func (s *SimulatedMessagingClient) SetSuccessRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successRate = clampRate(rate)
}

// SetLatency overrides the simulated latency range
func (s *SimulatedMessagingClient) SetLatency(min, max time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.minLatency, s.maxLatency = min, max
}

var simulatedFailures = []string{
	"network timeout",
	"invalid recipient address",
	"rate limit exceeded",
	"service temporarily unavailable",
	"insufficient balance",
}

func clampRate(rate float64) float64 {
	if rate < 0.0 {
		return 0.0
	}
	if rate > 1.0 {
		return 1.0
	}
	return rate
}
