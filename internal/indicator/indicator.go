package indicator

import "math"

// Set holds the computed technicals for one symbol. Prices come in as
// float64 closes; money only becomes decimal once a trade is sized.
type Set struct {
	RSI          float64 `json:"rsi"`
	MACD         float64 `json:"macd"`
	Signal       float64 `json:"signal"`
	SMA50        float64 `json:"sma_50"`
	SMA200       float64 `json:"sma_200"`
	BBLower      float64 `json:"bb_lower"`
	BBMiddle     float64 `json:"bb_middle"`
	BBUpper      float64 `json:"bb_upper"`
	CurrentPrice float64 `json:"current_price"`
	Passed       bool    `json:"passed"`
}

// Neutral is the placeholder Set for symbols whose history could not be
// fetched or is too short. It never passes the screen.
func Neutral() Set {
	return Set{
		RSI:    50.0,
		SMA50:  50.0,
		SMA200: 50.0,
	}
}

// Compute derives the full indicator Set from a close-price series,
// oldest first. Fewer than 50 bars yields the neutral Set.
func Compute(closes []float64) Set {
	if len(closes) < 50 {
		return Neutral()
	}

	set := Set{
		RSI:          RSI(closes),
		SMA50:        SMA(closes, 50),
		SMA200:       SMA(closes, 200),
		CurrentPrice: closes[len(closes)-1],
	}
	set.MACD, set.Signal = MACD(closes)
	set.BBLower, set.BBMiddle, set.BBUpper = BollingerBands(closes, 20, 2.0)
	set.Passed = passes(set)
	return set
}

// RSI is the 14-period relative strength index over simple averages of
// the last 14 deltas. Returns 50 when the series is too short and 100
// when there were no losing days in the window.
func RSI(closes []float64) float64 {
	if len(closes) < 15 {
		return 50.0
	}

	deltas := make([]float64, 0, 14)
	for i := len(closes) - 14; i < len(closes); i++ {
		deltas = append(deltas, closes[i]-closes[i-1])
	}

	var gainSum, lossSum float64
	var gains, losses int
	for _, delta := range deltas {
		if delta > 0 {
			gainSum += delta
			gains++
		} else if delta < 0 {
			lossSum += -delta
			losses++
		}
	}

	var avgGain, avgLoss float64
	if gains > 0 {
		avgGain = gainSum / float64(gains)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// MACD returns the 12/26 EMA difference and its 9-period signal line.
// The EMAs are seeded from the latest close and run over the tail of
// the series only. Both values are zero with fewer than 26 bars.
func MACD(closes []float64) (float64, float64) {
	if len(closes) < 26 {
		return 0.0, 0.0
	}

	const (
		mult12 = 2.0 / (12.0 + 1.0)
		mult26 = 2.0 / (26.0 + 1.0)
		mult9  = 2.0 / (9.0 + 1.0)
	)

	last := closes[len(closes)-1]
	ema12 := last
	ema26 := last

	for _, price := range closes[len(closes)-12:] {
		ema12 = price*mult12 + ema12*(1.0-mult12)
	}
	for _, price := range closes[len(closes)-26:] {
		ema26 = price*mult26 + ema26*(1.0-mult26)
	}

	macd := ema12 - ema26

	signal := macd
	for i := 0; i < 9; i++ {
		signal = macd*mult9 + signal*(1.0-mult9)
	}

	return macd, signal
}

// SMA is the simple moving average of the last period closes. A short
// series falls back to the latest close, an empty one to 50.
func SMA(closes []float64, period int) float64 {
	if len(closes) < period {
		if len(closes) == 0 {
			return 50.0
		}
		return closes[len(closes)-1]
	}

	var sum float64
	for _, price := range closes[len(closes)-period:] {
		sum += price
	}
	return sum / float64(period)
}

// BollingerBands returns (lower, middle, upper) for the given period
// and standard-deviation multiplier. All zero when the series is short.
func BollingerBands(closes []float64, period int, stdMult float64) (float64, float64, float64) {
	if len(closes) < period {
		return 0.0, 0.0, 0.0
	}

	middle := SMA(closes, period)

	var variance float64
	for _, price := range closes[len(closes)-period:] {
		diff := price - middle
		variance += diff * diff
	}
	variance /= float64(period)
	stdDev := math.Sqrt(variance)

	return middle - stdMult*stdDev, middle, middle + stdMult*stdDev
}

// passes applies the screen gate: never overbought, and at least two
// bullish criteria among oversold RSI, uptrend, positive momentum and
// price at or below the lower Bollinger band.
func passes(set Set) bool {
	if set.RSI >= 70 {
		return false
	}

	met := 0
	if set.RSI < 30 {
		met++
	}
	if set.CurrentPrice > set.SMA50 {
		met++
	}
	if set.MACD > 0 {
		met++
	}
	if set.BBLower > 0 && set.CurrentPrice <= set.BBLower {
		met++
	}
	return met >= 2
}

// Score ranks a Set for candidate selection. Higher is better; an
// overbought RSI is penalized hard enough to sink any other signal.
func Score(set Set) float64 {
	score := 0.0

	switch {
	case set.RSI < 30:
		score += 40
	case set.RSI < 40:
		score += 30
	case set.RSI < 50:
		score += 25
	case set.RSI < 60:
		score += 15
	case set.RSI < 70:
		score += 5
	default:
		score -= 50
	}

	if set.MACD > 0 {
		score += 30
	}

	if set.CurrentPrice > set.SMA50 {
		score += 30
	}

	if set.BBLower > 0 && set.BBUpper > 0 {
		bandRange := set.BBUpper - set.BBLower
		if bandRange > 0 {
			position := (set.CurrentPrice - set.BBLower) / bandRange

			switch {
			case position < 0.1:
				score += 25
			case position < 0.2:
				score += 15
			case position < 0.3:
				score += 5
			}

			switch {
			case position > 0.9:
				score -= 15
			case position > 0.8:
				score -= 5
			}
		}
	}

	return score
}
