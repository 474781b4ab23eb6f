package order

import (
	"math"
	"time"
)

// depositRate is the fixed upfront share of the order total paid at booking.
const depositRate = 0.30

// platformFeeRate is the share of collected deposits retained at settlement.
const platformFeeRate = 0.10

// DepositAmount returns round(total × 30%) in integer cents.
func DepositAmount(total int64) int64 {
	return int64(math.Round(float64(total) * depositRate))
}

// PlatformFee returns round(gross × 10%) in integer cents.
func PlatformFee(gross int64) int64 {
	return int64(math.Round(float64(gross) * platformFeeRate))
}

// RefundPercent is the cancellation refund policy: a step function of the
// time remaining until the scheduled service.
//
//	≥ 48h before service: 100%
//	≥ 24h before service:  50%
//	<  24h before service:  0%
func RefundPercent(now, serviceAt time.Time) int {
	until := serviceAt.Sub(now)
	switch {
	case until >= 48*time.Hour:
		return 100
	case until >= 24*time.Hour:
		return 50
	default:
		return 0
	}
}

// RefundAmount applies a refund percentage to the deposit.
func RefundAmount(deposit int64, percent int) int64 {
	return int64(math.Round(float64(deposit) * float64(percent) / 100))
}
