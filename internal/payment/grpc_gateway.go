package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Dial opens a lazily connected client to the payment service.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment client: %w", err)
	}
	return conn, nil
}

// GRPCGateway charges through the payment service behind a circuit breaker.
// Declines count as successful calls for the breaker.
type GRPCGateway struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[*ChargeResult]
}

func NewGRPCGateway(conn grpc.ClientConnInterface, timeout time.Duration, log *slog.Logger) *GRPCGateway {
	cb := gobreaker.NewCircuitBreaker[*ChargeResult](gobreaker.Settings{
		Name:        "payment-service",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var decline *DeclineError
			return err == nil || errors.As(err, &decline)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &GRPCGateway{conn: conn, timeout: timeout, cb: cb}
}

func (g *GRPCGateway) Name() string {
	return "grpc"
}

func (g *GRPCGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	res, err := g.cb.Execute(func() (*ChargeResult, error) {
		return g.charge(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &TransportError{Err: err, NotSent: true}
	}
	return res, err
}

func (g *GRPCGateway) charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	in := &ChargeMessage{
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		Token:          req.Token,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	}
	out := new(ChargeReply)
	// The peer is only filled in once the call got a transport stream.
	var p peer.Peer
	if err := g.conn.Invoke(callCtx, ChargeMethod, in, out, grpc.CallContentSubtype(codecName), grpc.Peer(&p)); err != nil {
		return nil, convertError(err, p.Addr == nil)
	}

	if out.Status != ChargeStatusSucceeded {
		return nil, &DeclineError{Code: out.DeclineCode, Message: out.DeclineReason}
	}
	return &ChargeResult{ChargeID: out.ChargeID}, nil
}

// convertError maps gRPC failures: a rejected request is a decline. Anything
// else leaves the charge outcome unknown, unless no connection was ever
// established for the call (a refused or failed dial), in which case the
// request was not sent.
func convertError(err error, noTransport bool) error {
	st, ok := status.FromError(err)
	if ok && (st.Code() == codes.InvalidArgument || st.Code() == codes.FailedPrecondition) {
		return &DeclineError{Code: "invalid_request", Message: st.Message()}
	}
	return &TransportError{Err: err, NotSent: noTransport}
}
