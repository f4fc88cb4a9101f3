package handlers

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterOptions wires the routes. OTP is nil when phone verification is not
// configured; Metrics is nil when no metrics endpoint should be served.
type RouterOptions struct {
	ServiceName string
	Payments    *PaymentHandler
	OTP         *OTPHandler
	Metrics     http.Handler
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(opts RouterOptions) *gin.Engine {
	r := gin.Default()

	r.Use(cors.Default())
	r.Use(otelgin.Middleware(opts.ServiceName))
	r.Use(RequestID())
	r.Use(HTTPMetrics())

	r.GET("/health", opts.Payments.HealthCheck)
	r.POST("/stk-push", opts.Payments.STKPush)
	r.POST("/callback", opts.Payments.Callback)

	if opts.OTP != nil {
		r.POST("/send-otp", opts.OTP.SendOTP)
		r.POST("/verify-otp", opts.OTP.VerifyOTP)
	}

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	return r
}
