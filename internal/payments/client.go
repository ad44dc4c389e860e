package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/atl5d/pwyc-booking/internal/domain"
	"github.com/atl5d/pwyc-booking/internal/observability"
	"github.com/cockroachdb/errors"
)

// Client forwards payment records to the payment confirmation endpoint using
// the server's service credential.
type Client struct {
	hc    *http.Client
	url   string
	token string
}

func NewClient(url, token string, timeout time.Duration) *Client {
	return &Client{
		hc:    &http.Client{Timeout: timeout},
		url:   url,
		token: token,
	}
}

type confirmRequest struct {
	BookingID     string  `json:"bookingId"`
	OfferedAmount float64 `json:"offeredAmount"`
	AttendeeEmail string  `json:"attendeeEmail"`
}

type confirmResponse struct {
	Success bool            `json:"success"`
	Details json.RawMessage `json:"details"`
	Error   string          `json:"error"`
}

func (c *Client) Confirm(ctx context.Context, rec domain.PaymentRecord) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.UpstreamDuration.WithLabelValues("payment_confirm", outcome).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(confirmRequest{
		BookingID:     rec.BookingID,
		OfferedAmount: rec.OfferedAmount.InexactFloat64(),
		AttendeeEmail: rec.AttendeeEmail,
	})
	if err != nil {
		return errors.Wrap(err, "encode payment record")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build payment request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "payment confirmation unreachable"), domain.ErrPaymentFailed)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "read payment confirmation response (status %d)", resp.StatusCode), domain.ErrPaymentFailed)
	}
	var out confirmResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return errors.Mark(errors.Wrapf(err, "payment confirmation responded %d with undecodable body %q", resp.StatusCode, truncate(raw, 256)), domain.ErrPaymentFailed)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.Success {
		detail := out.Error
		if detail == "" {
			detail = string(raw)
		}
		return errors.Mark(errors.Newf("payment confirmation responded %d: %s", resp.StatusCode, detail), domain.ErrPaymentFailed)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
