// Command payment-service is the card processor stand-in used in development.
// It speaks the same gRPC contract the storefront's grpc payment provider dials.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/payment"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const stopTimeout = 10 * time.Second

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	log := logger.New("payment-service", os.Stdout, logger.ParseLevel(getEnv("LOG_LEVEL", "info")))
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if err := run(getEnv("PAYMENT_SERVICE_PORT", "50054"), log); err != nil {
		log.Error("payment service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(port string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", port, err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	payment.RegisterPaymentServiceServer(grpcServer, payment.NewSimulator(payment.RandomDecider{}, log))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(payment.PaymentServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("payment service listening", "port", port)
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	log.Info("shutting down payment service...")
	// Health checks report NOT_SERVING before in-flight charges drain.
	healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(stopTimeout):
		log.Warn("graceful stop timed out, closing open streams")
		grpcServer.Stop()
	}

	log.Info("payment service stopped")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
