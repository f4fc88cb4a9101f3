package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	verify "github.com/twilio/twilio-go/rest/verify/v2"

	"mpesa-stk-service/config"
)

type fakeVerifyAPI struct {
	serviceSID  string
	verifyParam *verify.CreateVerificationParams
	checkParam  *verify.CreateVerificationCheckParams

	verification *verify.VerifyV2Verification
	check        *verify.VerifyV2VerificationCheck
	err          error
}

func (f *fakeVerifyAPI) CreateVerification(serviceSid string, params *verify.CreateVerificationParams) (*verify.VerifyV2Verification, error) {
	f.serviceSID = serviceSid
	f.verifyParam = params
	return f.verification, f.err
}

func (f *fakeVerifyAPI) CreateVerificationCheck(serviceSid string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error) {
	f.serviceSID = serviceSid
	f.checkParam = params
	return f.check, f.err
}

func strPtr(s string) *string { return &s }

func TestNewTwilioVerifier(t *testing.T) {
	v := NewTwilioVerifier(config.TwilioConfig{AccountSID: "AC1", AuthToken: "tok", VerifyServiceSID: "VA1"})
	assert.NotNil(t, v.api)
	assert.Equal(t, "VA1", v.serviceSID)
}

func TestTwilioVerifier_Send(t *testing.T) {
	api := &fakeVerifyAPI{verification: &verify.VerifyV2Verification{Sid: strPtr("VE123")}}
	v := &TwilioVerifier{api: api, serviceSID: "VA1"}

	sid, err := v.SendVerification(context.Background(), "+254700000000", "sms")
	require.NoError(t, err)

	assert.Equal(t, "VE123", sid)
	assert.Equal(t, "VA1", api.serviceSID)
	assert.Equal(t, "+254700000000", *api.verifyParam.To)
	assert.Equal(t, "sms", *api.verifyParam.Channel)
}

func TestTwilioVerifier_SendMissingSid(t *testing.T) {
	v := &TwilioVerifier{api: &fakeVerifyAPI{verification: &verify.VerifyV2Verification{}}, serviceSID: "VA1"}

	_, err := v.SendVerification(context.Background(), "+254700000000", "sms")
	assert.Error(t, err)
}

func TestTwilioVerifier_Check(t *testing.T) {
	api := &fakeVerifyAPI{check: &verify.VerifyV2VerificationCheck{Status: strPtr("approved")}}
	v := &TwilioVerifier{api: api, serviceSID: "VA1"}

	status, err := v.CheckVerification(context.Background(), "+254700000000", "123456")
	require.NoError(t, err)

	assert.Equal(t, "approved", status)
	assert.Equal(t, "+254700000000", *api.checkParam.To)
	assert.Equal(t, "123456", *api.checkParam.Code)
}

func TestTwilioVerifier_CheckWithoutStatus(t *testing.T) {
	v := &TwilioVerifier{api: &fakeVerifyAPI{check: &verify.VerifyV2VerificationCheck{}}, serviceSID: "VA1"}

	status, err := v.CheckVerification(context.Background(), "+254700000000", "123456")
	require.NoError(t, err)
	assert.Equal(t, "", status)
}

func TestTwilioVerifier_Errors(t *testing.T) {
	api := &fakeVerifyAPI{err: errors.New("20404 not found")}
	v := &TwilioVerifier{api: api, serviceSID: "VA1"}

	_, err := v.SendVerification(context.Background(), "+254700000000", "sms")
	assert.ErrorContains(t, err, "20404")

	_, err = v.CheckVerification(context.Background(), "+254700000000", "123456")
	assert.ErrorContains(t, err, "20404")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.SendVerification(ctx, "+254700000000", "sms")
	assert.ErrorIs(t, err, context.Canceled)
}
