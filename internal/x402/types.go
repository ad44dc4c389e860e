// Package x402 gates HTTP handlers behind an x402 payment verified and
// settled by a remote facilitator.
package x402

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

const (
	Version = 1

	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"

	SchemeExact = "exact"

	// USDCDecimals is the number of atomic units per USDC.
	USDCDecimals = 6
)

type PaymentRequirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Asset             string            `json:"asset"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// PaymentPayload is the decoded X-PAYMENT header. The scheme-specific part is
// kept raw and handed to the facilitator untouched.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// DecodePayment parses a base64 encoded X-PAYMENT header value.
func DecodePayment(header string) (*PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header))
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(strings.TrimSpace(header))
		if err != nil {
			return nil, errors.Wrap(err, "decode payment header")
		}
	}
	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "parse payment payload")
	}
	if len(p.Payload) == 0 {
		return nil, errors.New("payment payload is empty")
	}
	return &p, nil
}

// PaymentKey identifies the payment carried by p regardless of how the header
// was encoded. For the exact scheme the signed authorization's payer and
// nonce name the transfer; other schemes hash a canonical form of the payload.
func PaymentKey(p PaymentPayload) (string, error) {
	var id string
	var exact struct {
		Authorization struct {
			From  string `json:"from"`
			Nonce string `json:"nonce"`
		} `json:"authorization"`
	}
	if p.Scheme == SchemeExact && json.Unmarshal(p.Payload, &exact) == nil && exact.Authorization.Nonce != "" {
		id = strings.ToLower(strings.Join([]string{p.Scheme, p.Network, exact.Authorization.From, exact.Authorization.Nonce}, "|"))
	} else {
		dec := json.NewDecoder(bytes.NewReader(p.Payload))
		dec.UseNumber()
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return "", errors.Wrap(err, "parse payment payload")
		}
		// Maps marshal with sorted keys.
		canonical, err := json.Marshal(v)
		if err != nil {
			return "", errors.Wrap(err, "canonicalize payment payload")
		}
		id = p.Scheme + "|" + p.Network + "|" + string(canonical)
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:]), nil
}

// EncodePayment is the inverse of DecodePayment.
func EncodePayment(p PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "encode payment payload")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func EncodeSettle(s SettleResponse) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "encode settle response")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// AtomicAmount converts a dollar price such as "$5.00" into the token's
// smallest unit, e.g. "5000000" for a 6 decimal token.
func AtomicAmount(price string, decimals int32) (string, error) {
	p := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))
	d, err := decimal.NewFromString(p)
	if err != nil {
		return "", errors.Wrapf(err, "invalid price %q", price)
	}
	if !d.IsPositive() {
		return "", errors.Newf("price must be positive, got %q", price)
	}
	units := d.Shift(decimals)
	if !units.Equal(units.Truncate(0)) {
		return "", errors.Newf("price %q has more than %d decimal places", price, decimals)
	}
	return units.Truncate(0).String(), nil
}
