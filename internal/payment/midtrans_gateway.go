package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
)

// midtransCharger is the part of coreapi.Client the gateway uses.
type midtransCharger interface {
	ChargeTransaction(req *coreapi.ChargeReq) (*coreapi.ChargeResponse, *midtrans.Error)
}

// MidtransGateway charges tokenized cards through the Midtrans Core API.
// GrossAmt is sent in minor units as configured for the merchant account.
type MidtransGateway struct {
	client midtransCharger
}

func NewMidtransGateway(serverKey string, env midtrans.EnvironmentType) *MidtransGateway {
	var client coreapi.Client
	client.New(serverKey, env)
	return &MidtransGateway{client: &client}
}

func (g *MidtransGateway) Name() string {
	return "midtrans"
}

func (g *MidtransGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	chargeReq := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeCreditCard,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.IdempotencyKey,
			GrossAmt: req.AmountMinor,
		},
		CreditCard: &coreapi.CreditCardDetails{
			TokenID: req.Token,
		},
	}

	type outcome struct {
		resp *coreapi.ChargeResponse
		err  *midtrans.Error
	}
	// The SDK call takes no context; the result is dropped if ctx ends first.
	done := make(chan outcome, 1)
	go func() {
		resp, err := g.client.ChargeTransaction(chargeReq)
		done <- outcome{resp, err}
	}()

	var out outcome
	select {
	case <-ctx.Done():
		return nil, &TransportError{Err: ctx.Err()}
	case out = <-done:
	}

	if out.err != nil {
		return nil, convertMidtransError(out.err)
	}
	switch out.resp.TransactionStatus {
	case "capture", "settlement":
		return &ChargeResult{ChargeID: out.resp.TransactionID}, nil
	case "deny", "cancel", "expire":
		return nil, &DeclineError{Code: out.resp.TransactionStatus, Message: out.resp.StatusMessage}
	default:
		return nil, &TransportError{Err: errors.New("unexpected transaction status " + out.resp.TransactionStatus)}
	}
}

// convertMidtransError treats client errors as declines and the rest as
// unknown outcomes.
func convertMidtransError(err *midtrans.Error) error {
	if err.StatusCode >= http.StatusBadRequest && err.StatusCode < http.StatusInternalServerError {
		return &DeclineError{Code: http.StatusText(err.StatusCode), Message: err.Message}
	}
	return &TransportError{Err: err}
}
