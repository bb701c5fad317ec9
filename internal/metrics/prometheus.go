package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PromoRedemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "truespace_promo_redemptions_total",
		Help: "Promo code redemption attempts by outcome",
	}, []string{"result"})

	PromoRedemptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "truespace_promo_redemption_duration_seconds",
		Help:    "Time spent redeeming a promo code",
		Buckets: prometheus.DefBuckets,
	})

	PromoCodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "truespace_promo_codes",
		Help: "Number of promo codes by state",
	}, []string{"state"})

	VideoIngests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "truespace_video_ingests_total",
		Help: "Lesson video ingest jobs by result",
	}, []string{"result"})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "truespace_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	}, []string{"route"})
)

func IncPromoRedemption(result string) {
	label := strings.TrimSpace(result)
	if label == "" {
		label = "unknown"
	}
	PromoRedemptions.WithLabelValues(label).Inc()
}

func ObservePromoRedemptionDuration(duration time.Duration) {
	PromoRedemptionDuration.Observe(duration.Seconds())
}

func SetPromoCodeCount(state string, count int64) {
	if count < 0 {
		count = 0
	}
	PromoCodes.WithLabelValues(state).Set(float64(count))
}

func IncVideoIngest(result string) {
	VideoIngests.WithLabelValues(result).Inc()
}

func IncRateLimited(route string) {
	RateLimited.WithLabelValues(route).Inc()
}
