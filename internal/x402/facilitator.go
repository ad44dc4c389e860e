package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
)

// Facilitator verifies and settles payments on the merchant's behalf.
type Facilitator interface {
	Verify(ctx context.Context, payload PaymentPayload, req PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, req PaymentRequirements) (*SettleResponse, error)
}

type HTTPFacilitator struct {
	hc      *http.Client
	baseURL string
}

func NewHTTPFacilitator(baseURL string, timeout time.Duration) *HTTPFacilitator {
	return &HTTPFacilitator{hc: &http.Client{Timeout: timeout}, baseURL: baseURL}
}

type facilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

func (f *HTTPFacilitator) Verify(ctx context.Context, payload PaymentPayload, req PaymentRequirements) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := f.post(ctx, "verify", payload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *HTTPFacilitator) Settle(ctx context.Context, payload PaymentPayload, req PaymentRequirements) (*SettleResponse, error) {
	var out SettleResponse
	if err := f.post(ctx, "settle", payload, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *HTTPFacilitator) post(ctx context.Context, op string, payload PaymentPayload, req PaymentRequirements, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.UpstreamDuration.WithLabelValues("x402_"+op, outcome).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(facilitatorRequest{
		X402Version:         Version,
		PaymentPayload:      payload,
		PaymentRequirements: req,
	})
	if err != nil {
		return errors.Wrapf(err, "encode %s request", op)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/"+op, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "build %s request", op)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.hc.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "facilitator %s", op)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrapf(err, "read facilitator %s response", op)
	}
	// The facilitator answers rejected payments with 400 and a regular body.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return errors.Newf("facilitator %s responded %d: %s", op, resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "decode facilitator %s response", op)
	}
	return nil
}
