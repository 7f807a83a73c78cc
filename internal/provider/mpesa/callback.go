package mpesa

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// stkCallbackEnvelope mirrors the gateway's result body. Metadata item
// values arrive as mixed JSON types so they stay raw until extraction.
type stkCallbackEnvelope struct {
	Body struct {
		STKCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackResult is the flattened outcome of one STK push.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDescription string

	// Set only on success.
	ReceiptNumber string
	Amount        decimal.Decimal
	PhoneNumber   string
}

func (r *CallbackResult) Success() bool {
	return r.ResultCode == 0
}

// ParseSTKCallback decodes a raw gateway callback body. A payload with
// no CheckoutRequestID is rejected as malformed.
func ParseSTKCallback(payload []byte) (*CallbackResult, error) {
	var env stkCallbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}

	cb := env.Body.STKCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("callback missing CheckoutRequestID")
	}

	result := &CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDescription: cb.ResultDesc,
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			var s string
			if err := json.Unmarshal(item.Value, &s); err == nil {
				result.ReceiptNumber = s
			}
		case "Amount":
			var f float64
			if err := json.Unmarshal(item.Value, &f); err == nil {
				result.Amount = decimal.NewFromFloat(f)
			}
		case "PhoneNumber":
			// Sent as a bare number, occasionally as a string.
			var n json.Number
			if err := json.Unmarshal(item.Value, &n); err == nil {
				result.PhoneNumber = n.String()
			} else {
				var s string
				if err := json.Unmarshal(item.Value, &s); err == nil {
					result.PhoneNumber = s
				}
			}
		}
	}

	return result, nil
}
