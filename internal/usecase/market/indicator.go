package market

import (
	"github.com/shopspring/decimal"

	"crypto-pulse/internal/domain"
)

const (
	// RSIPeriod окно осциллятора.
	RSIPeriod = 14
	// NeutralRSI значение при нехватке данных.
	NeutralRSI = 50.0

	bucketMillis       = 60_000
	fallbackStride     = 5
	fallbackMinSamples = 20
)

// StreamingRSI считает RSI по буферу без фиксированных свечей.
// Берётся последний сэмпл каждой минуты (до RSIPeriod+1 минут). Если минут
// мало, а сырых сэмплов больше fallbackMinSamples, используется каждый
// пятый сэмпл. Состояние сглаживания между вызовами не хранится.
func StreamingRSI(samples []domain.Sample) float64 {
	if len(samples) == 0 {
		return NeutralRSI
	}
	closes := MinuteCloses(samples, RSIPeriod+1)
	if len(closes) >= RSIPeriod+1 {
		return CalculateRSI(closes, RSIPeriod)
	}
	if len(samples) > fallbackMinSamples {
		strided := make([]float64, 0, len(samples)/fallbackStride+1)
		for i := 0; i < len(samples); i += fallbackStride {
			strided = append(strided, samples[i].Value)
		}
		return CalculateRSI(strided, RSIPeriod)
	}
	return NeutralRSI
}

// MinuteCloses проходит сэмплы от новых к старым и оставляет самый свежий
// сэмпл каждой минуты, пока не наберёт want значений. Результат в
// хронологическом порядке.
func MinuteCloses(samples []domain.Sample, want int) []float64 {
	seen := make(map[int64]struct{}, want)
	closes := make([]float64, 0, want)
	for i := len(samples) - 1; i >= 0 && len(closes) < want; i-- {
		key := samples[i].Time / bucketMillis
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		closes = append(closes, samples[i].Value)
	}
	for l, r := 0, len(closes)-1; l < r; l, r = l+1, r-1 {
		closes[l], closes[r] = closes[r], closes[l]
	}
	return closes
}

// CalculateRSI считает RSI по последним period приращениям.
func CalculateRSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return NeutralRSI
	}
	var gain, loss float64
	for i := len(prices) - period; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	if avgLoss == 0 {
		if avgGain > 0 {
			return 100
		}
		return NeutralRSI
	}
	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	return decimal.NewFromFloat(rsi).Round(1).InexactFloat64()
}
