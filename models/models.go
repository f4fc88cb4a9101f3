package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata item names sent by Daraja on a successful STK callback.
const (
	MetadataAmount        = "Amount"
	MetadataReceiptNumber = "MpesaReceiptNumber"
	MetadataPhoneNumber   = "PhoneNumber"
)

// TransactionTypePayBill is the only STK transaction type this service sends.
const TransactionTypePayBill = "CustomerPayBillOnline"

// STKPushRequest is the inbound body of POST /stk-push. Both fields are
// optional and keep whatever JSON type the client sent; numbers decode as
// json.Number so they are forwarded with their original text.
type STKPushRequest struct {
	Amount any `json:"amount"`
	Phone  any `json:"phone"`
}

// UnmarshalJSON accepts any JSON value. Anything other than an object is
// treated as an empty request.
func (r *STKPushRequest) UnmarshalJSON(b []byte) error {
	root, err := decodeLoose(b)
	if err != nil {
		return err
	}
	*r = STKPushRequest{}
	if obj, ok := root.(map[string]any); ok {
		r.Amount = obj["amount"]
		r.Phone = obj["phone"]
	}
	return nil
}

// STKPushPayload is the body posted to the Daraja processrequest endpoint.
type STKPushPayload struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            any    `json:"Amount"`
	PartyA            any    `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       any    `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// AccessToken is a Daraja OAuth bearer token.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token can still be used at now.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt)
}

// AccessTokenResponse is the body of the Daraja OAuth generate endpoint.
// expires_in arrives as a quoted number of seconds.
type AccessTokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// CallbackEnvelope is the outer shape of a Daraja STK result notification.
// Body is nil when the notification has no Body object, and
// Body.StkCallback is nil when stkCallback is missing, null, false, 0 or "".
type CallbackEnvelope struct {
	Body *CallbackBody `json:"Body"`
}

type CallbackBody struct {
	StkCallback *STKCallback `json:"stkCallback"`
}

// STKCallback carries the final result of one push-payment attempt. Scalar
// fields hold whatever JSON value Daraja sent, numbers as json.Number.
type STKCallback struct {
	MerchantRequestID any
	CheckoutRequestID any
	ResultCode        any
	ResultDesc        any
	CallbackMetadata  *CallbackMetadata
}

// Succeeded reports whether ResultCode is the number 0. A quoted "0" is not
// a success.
func (c *STKCallback) Succeeded() bool {
	n, ok := c.ResultCode.(json.Number)
	if !ok {
		return false
	}
	f, err := n.Float64()
	return err == nil && f == 0
}

// UnmarshalJSON decodes the envelope without failing on unexpected field
// types. Only malformed JSON is an error.
func (e *CallbackEnvelope) UnmarshalJSON(b []byte) error {
	root, err := decodeLoose(b)
	if err != nil {
		return err
	}
	*e = CallbackEnvelope{}

	obj, _ := root.(map[string]any)
	body, ok := obj["Body"].(map[string]any)
	if !ok {
		return nil
	}
	e.Body = &CallbackBody{}

	raw := body["stkCallback"]
	if !IsSet(raw) {
		return nil
	}
	cb := &STKCallback{}
	if fields, ok := raw.(map[string]any); ok {
		cb.MerchantRequestID = fields["MerchantRequestID"]
		cb.CheckoutRequestID = fields["CheckoutRequestID"]
		cb.ResultCode = fields["ResultCode"]
		cb.ResultDesc = fields["ResultDesc"]
		cb.CallbackMetadata = metadataFrom(fields["CallbackMetadata"])
	}
	e.Body.StkCallback = cb
	return nil
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem is one name/value pair. Value may be a number, a string or
// missing entirely.
type MetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// Lookup returns the value of the first item named name, or nil.
func (m *CallbackMetadata) Lookup(name string) any {
	if m == nil {
		return nil
	}
	for _, item := range m.Item {
		if item.Name == name {
			return item.Value
		}
	}
	return nil
}

func metadataFrom(v any) *CallbackMetadata {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	items, _ := obj["Item"].([]any)
	m := &CallbackMetadata{Item: make([]MetadataItem, 0, len(items))}
	for _, it := range items {
		fields, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name, _ := fields["Name"].(string)
		m.Item = append(m.Item, MetadataItem{Name: name, Value: fields["Value"]})
	}
	return m
}

// CallbackResult is what the service extracts from a callback.
type CallbackResult struct {
	CheckoutRequestID any
	ResultCode        any
	ResultDesc        any
	Success           bool
	ReceiptNumber     any
	Amount            any
	PhoneNumber       any
}

// IsSet reports whether a loosely decoded value counts as supplied: not
// missing, null, false, "" or a numeric zero.
func IsSet(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return err != nil || !d.IsZero()
	case float64:
		return val != 0
	}
	return true
}

// decodeLoose parses one JSON value keeping numbers as json.Number.
func decodeLoose(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// SendOTPRequest is the inbound body of POST /send-otp.
type SendOTPRequest struct {
	Phone string `json:"phone"`
}

// VerifyOTPRequest is the inbound body of POST /verify-otp.
type VerifyOTPRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// OTPSendResponse is returned by POST /send-otp.
type OTPSendResponse struct {
	Message string `json:"message"`
	SID     string `json:"sid"`
}
