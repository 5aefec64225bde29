package stream

import "math"

const lossFloor = 1e-9

// RSI computes the relative strength index of closes with Wilder smoothing:
// average gain and loss are exponential means with alpha 1/period, seeded
// from the first delta. Returns false until period+1 closes are available.
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	alpha := 1.0 / float64(period)
	var avgGain, avgLoss float64
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		if i == 1 {
			avgGain, avgLoss = gain, loss
			continue
		}
		avgGain += alpha * (gain - avgGain)
		avgLoss += alpha * (loss - avgLoss)
	}
	rs := avgGain / math.Max(avgLoss, lossFloor)
	return 100 - 100/(1+rs), true
}
