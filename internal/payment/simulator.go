package payment

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Test card tokens with a fixed outcome.
const (
	TokenVisa           = "tok_visa"
	TokenChargeDeclined = "tok_chargeDeclined"
)

var declineReasons = []struct{ code, reason string }{
	{"card_declined", "the card was declined"},
	{"insufficient_funds", "the card has insufficient funds"},
	{"expired_card", "the card has expired"},
	{"incorrect_cvc", "the card's security code is incorrect"},
	{"processing_error", "an error occurred while processing the card"},
}

type Decider interface {
	Decide(token string) *ChargeReply
}

// RandomDecider approves 95% of charges for unknown tokens. Test tokens
// always get their fixed outcome.
type RandomDecider struct{}

func (RandomDecider) Decide(token string) *ChargeReply {
	switch token {
	case TokenVisa:
		return approved()
	case TokenChargeDeclined:
		return declined(0)
	}
	return decide(rand.IntN(100))
}

func decide(roll int) *ChargeReply {
	if roll < 95 {
		return approved()
	}
	return declined(roll - 95)
}

func approved() *ChargeReply {
	return &ChargeReply{Status: ChargeStatusSucceeded, ChargeID: "ch_" + strings.ReplaceAll(uuid.NewString(), "-", "")}
}

func declined(i int) *ChargeReply {
	r := declineReasons[i%len(declineReasons)]
	return &ChargeReply{Status: ChargeStatusDeclined, DeclineCode: r.code, DeclineReason: r.reason}
}

const (
	replyTTL   = 24 * time.Hour
	maxReplies = 10000
)

type storedReply struct {
	key   string
	reply *ChargeReply
	at    time.Time
}

// Simulator is the payment processor used in development. Charges carrying an
// idempotency key are answered once and replayed for replyTTL afterwards; at
// most maxReplies answers are kept, oldest dropped first.
type Simulator struct {
	decider Decider
	log     *slog.Logger
	now     func() time.Time
	ttl     time.Duration
	limit   int

	mu      sync.Mutex
	replies map[string]*storedReply
	order   []*storedReply // insertion order, oldest first
}

func NewSimulator(d Decider, log *slog.Logger) *Simulator {
	return &Simulator{
		decider: d,
		log:     log,
		now:     time.Now,
		ttl:     replyTTL,
		limit:   maxReplies,
		replies: make(map[string]*storedReply),
	}
}

func (s *Simulator) Charge(ctx context.Context, req *ChargeMessage) (*ChargeReply, error) {
	if req.AmountMinor <= 0 {
		return nil, status.Error(codes.InvalidArgument, "amount must be positive")
	}
	if req.Token == "" {
		return nil, status.Error(codes.InvalidArgument, "card token is required")
	}
	if req.Currency == "" {
		return nil, status.Error(codes.InvalidArgument, "currency is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	if req.IdempotencyKey != "" {
		if stored, ok := s.replies[req.IdempotencyKey]; ok {
			return stored.reply, nil
		}
	}

	reply := s.decider.Decide(req.Token)
	if req.IdempotencyKey != "" {
		stored := &storedReply{key: req.IdempotencyKey, reply: reply, at: now}
		s.replies[stored.key] = stored
		s.order = append(s.order, stored)
		s.evictLocked(now)
	}

	s.log.InfoContext(ctx, "charge processed",
		"status", reply.Status,
		"amount_minor", req.AmountMinor,
		"currency", req.Currency,
		"charge_id", reply.ChargeID,
		"decline_code", reply.DeclineCode)
	return reply, nil
}

// evictLocked drops expired answers and the oldest ones beyond the limit.
func (s *Simulator) evictLocked(now time.Time) {
	drop := 0
	for drop < len(s.order) {
		oldest := s.order[drop]
		if now.Sub(oldest.at) < s.ttl && len(s.order)-drop <= s.limit {
			break
		}
		delete(s.replies, oldest.key)
		drop++
	}
	if drop > 0 {
		s.order = slices.Delete(s.order, 0, drop)
	}
}
