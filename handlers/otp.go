package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"mpesa-stk-service/models"
)

const (
	msgOTPSent     = "OTP sent successfully"
	msgOTPVerified = "Phone number verified successfully"

	errPhoneRequired        = "Phone number is required"
	errPhoneAndCodeRequired = "Phone number and code are required"
	errInvalidOTP           = "Invalid OTP code"
	errSendOTPFailed        = "Failed to send OTP"
	errVerifyOTPFailed      = "Failed to verify OTP"
)

// OTPRelay sends and checks one-time passcodes.
type OTPRelay interface {
	SendOTP(ctx context.Context, phone string) (string, error)
	VerifyOTP(ctx context.Context, phone, code string) (bool, error)
}

// OTPHandler handles phone verification requests
type OTPHandler struct {
	otp OTPRelay
}

func NewOTPHandler(otp OTPRelay) *OTPHandler {
	return &OTPHandler{otp: otp}
}

// SendOTP handles POST /send-otp.
func (h *OTPHandler) SendOTP(c *gin.Context) {
	var req models.SendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errPhoneRequired})
		return
	}

	sid, err := h.otp.SendOTP(c.Request.Context(), req.Phone)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errSendOTPFailed})
		return
	}

	c.JSON(http.StatusOK, models.OTPSendResponse{Message: msgOTPSent, SID: sid})
}

// VerifyOTP handles POST /verify-otp.
func (h *OTPHandler) VerifyOTP(c *gin.Context) {
	var req models.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errPhoneAndCodeRequired})
		return
	}

	approved, err := h.otp.VerifyOTP(c.Request.Context(), req.Phone, req.Code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errVerifyOTPFailed})
		return
	}
	if !approved {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidOTP})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": msgOTPVerified})
}
