package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	verify "github.com/twilio/twilio-go/rest/verify/v2"

	"mpesa-stk-service/config"
)

// ProviderTwilio labels Twilio calls in metrics.
const ProviderTwilio = "twilio"

// verifyAPI is the part of the Twilio Verify v2 client this service uses.
type verifyAPI interface {
	CreateVerification(serviceSid string, params *verify.CreateVerificationParams) (*verify.VerifyV2Verification, error)
	CreateVerificationCheck(serviceSid string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error)
}

// TwilioVerifier implements Verifier with Twilio Verify.
type TwilioVerifier struct {
	api        verifyAPI
	serviceSID string
}

func NewTwilioVerifier(cfg config.TwilioConfig) *TwilioVerifier {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioVerifier{api: client.VerifyV2, serviceSID: cfg.VerifyServiceSID}
}

func (v *TwilioVerifier) SendVerification(ctx context.Context, phone, channel string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &verify.CreateVerificationParams{}
	params.SetTo(phone)
	params.SetChannel(channel)

	resp, err := v.api.CreateVerification(v.serviceSID, params)
	if err != nil {
		return "", fmt.Errorf("twilio create verification: %w", err)
	}
	if resp == nil || resp.Sid == nil {
		return "", errors.New("twilio verification sid missing from response")
	}
	return *resp.Sid, nil
}

// CheckVerification returns "" when Twilio answers without a status.
func (v *TwilioVerifier) CheckVerification(ctx context.Context, phone, code string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(phone)
	params.SetCode(code)

	resp, err := v.api.CreateVerificationCheck(v.serviceSID, params)
	if err != nil {
		return "", fmt.Errorf("twilio verification check: %w", err)
	}
	if resp == nil || resp.Status == nil {
		return "", nil
	}
	return *resp.Status, nil
}
