package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Message is one outbound email handed to the delivery provider
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	ReplyTo string
	Headers map[string]string
	SendAt  *time.Time
}

// SendResult represents the result of a send attempt
type SendResult struct {
	Success    bool
	ProviderID string
	Error      error
	Latency    time.Duration
}

// Sender delivers a rendered message. Transport errors and provider
// rejections are both reported through SendResult.Error.
type Sender interface {
	Send(ctx context.Context, msg *Message) *SendResult
}

// SimulatedSender stands in for the email provider
type SimulatedSender struct {
	mu          sync.Mutex
	successRate float64 // 0.0 to 1.0
	latency     time.Duration
	rand        *rand.Rand
}

// NewSimulatedSender creates a simulated sender
// successRate: probability of successful send (0.0 to 1.0)
// latency: upper bound of the simulated provider round trip
func NewSimulatedSender(successRate float64, latency time.Duration) *SimulatedSender {
	return &SimulatedSender{
		successRate: clampRate(successRate),
		latency:     latency,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Send simulates handing msg to the provider
func (s *SimulatedSender) Send(ctx context.Context, msg *Message) *SendResult {
	start := time.Now()

	if msg.To == "" {
		return &SendResult{Error: errors.New("missing recipient address"), Latency: time.Since(start)}
	}

	s.mu.Lock()
	var wait time.Duration
	if s.latency > 0 {
		wait = time.Duration(s.rand.Int63n(int64(s.latency)) + 1)
	}
	success := s.rand.Float64() < s.successRate
	failure := simulatedFailures[s.rand.Intn(len(simulatedFailures))]
	id := fmt.Sprintf("sim-%d", s.rand.Int63())
	s.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return &SendResult{Error: ctx.Err(), Latency: time.Since(start)}
		}
	}

	result := &SendResult{Success: success, Latency: time.Since(start)}
	if success {
		result.ProviderID = id
	} else {
		result.Error = fmt.Errorf("provider rejected message to %s: %s", msg.To, failure)
	}
	return result
}

var simulatedFailures = []string{
	"mailbox unavailable",
	"rate limit exceeded",
	"service temporarily unavailable",
	"message rejected as spam",
	"invalid recipient domain",
}

// GetSuccessRate returns the configured success rate
func (s *SimulatedSender) GetSuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successRate
}

// SetSuccessRate updates the success rate (for testing)
func (s *SimulatedSender) SetSuccessRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successRate = clampRate(rate)
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
