package udp

import "time"

const rateSmoothing = 0.1

// RateEstimator smooths bursty per-drain packet counts into a packets per
// second figure with an exponential moving average. It belongs to the
// consumer side and is not safe for concurrent use.
type RateEstimator struct {
	ema  float64
	last time.Time
}

// NewRateEstimator returns an estimator whose first interval starts at now.
func NewRateEstimator(now time.Time) *RateEstimator {
	return &RateEstimator{last: now}
}

// Update folds packets received since the previous call into the average and
// returns it. Elapsed time is clamped to one microsecond.
func (r *RateEstimator) Update(packets int, now time.Time) float64 {
	elapsed := max(now.Sub(r.last).Microseconds(), 1)
	r.last = now

	inst := float64(packets) / (float64(elapsed) * 1e-6)
	r.ema = r.ema*(1-rateSmoothing) + inst*rateSmoothing
	return r.ema
}

// Rate returns the current average in packets per second.
func (r *RateEstimator) Rate() float64 {
	return r.ema
}

// Reset clears the average and restarts the interval at now.
func (r *RateEstimator) Reset(now time.Time) {
	r.ema = 0
	r.last = now
}
