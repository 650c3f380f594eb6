package market

import (
	"testing"

	"crypto-pulse/internal/domain"
)

func minuteSamples(values []float64) []domain.Sample {
	out := make([]domain.Sample, len(values))
	for i, v := range values {
		out[i] = domain.Sample{Time: int64(i) * 60_000, Value: v}
	}
	return out
}

func TestStreamingRSIIncreasing(t *testing.T) {
	values := make([]float64, 0, 15)
	for v := 10.0; v <= 24; v++ {
		values = append(values, v)
	}
	if got := StreamingRSI(minuteSamples(values)); got != 100 {
		t.Fatalf("ожидали 100, получили %v", got)
	}
}

func TestStreamingRSIDecreasing(t *testing.T) {
	values := make([]float64, 0, 15)
	for v := 24.0; v >= 10; v-- {
		values = append(values, v)
	}
	if got := StreamingRSI(minuteSamples(values)); got != 0 {
		t.Fatalf("ожидали 0, получили %v", got)
	}
}

func TestStreamingRSIFlat(t *testing.T) {
	values := make([]float64, 15)
	for i := range values {
		values[i] = 42
	}
	if got := StreamingRSI(minuteSamples(values)); got != NeutralRSI {
		t.Fatalf("ожидали 50, получили %v", got)
	}
}

func TestStreamingRSIColdStart(t *testing.T) {
	if got := StreamingRSI(nil); got != NeutralRSI {
		t.Fatalf("пустой буфер: ожидали 50, получили %v", got)
	}
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}
	if got := StreamingRSI(minuteSamples(values)); got != NeutralRSI {
		t.Fatalf("14 значений: ожидали 50, получили %v", got)
	}
}

func TestStreamingRSIUsesLatestSamplePerMinute(t *testing.T) {
	var samples []domain.Sample
	for m := int64(0); m < 15; m++ {
		// внутри минуты цена падает, но последний сэмпл минуты растёт от минуты к минуте
		samples = append(samples,
			domain.Sample{Time: m*60_000 + 1_000, Value: 1000 - float64(m)},
			domain.Sample{Time: m*60_000 + 50_000, Value: 10 + float64(m)},
		)
	}
	if got := StreamingRSI(samples); got != 100 {
		t.Fatalf("ожидали 100 по последним сэмплам минут, получили %v", got)
	}
}

func TestStreamingRSIStrideFallback(t *testing.T) {
	// 80 сэмплов в пределах одной минуты: минутных корзин мало, берётся каждый пятый
	samples := make([]domain.Sample, 80)
	for i := range samples {
		samples[i] = domain.Sample{Time: int64(i) * 100, Value: 100 - float64(i)}
	}
	if got := StreamingRSI(samples); got != 0 {
		t.Fatalf("ожидали 0 на падающем ряду, получили %v", got)
	}

	short := samples[:25]
	if got := StreamingRSI(short); got != NeutralRSI {
		t.Fatalf("5 прореженных значений: ожидали 50, получили %v", got)
	}
}

func TestCalculateRSIMixed(t *testing.T) {
	prices := []float64{10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 10, 11, 12}
	// 8 ростов по 1 (включая последний на 2), 6 падений по 1: gain 8, loss 6
	got := CalculateRSI(prices, RSIPeriod)
	if got != 57.1 {
		t.Fatalf("ожидали 57.1, получили %v", got)
	}
}

func TestMinuteClosesOrder(t *testing.T) {
	samples := []domain.Sample{
		{Time: 0, Value: 1},
		{Time: 30_000, Value: 2},
		{Time: 60_000, Value: 3},
		{Time: 130_000, Value: 4},
	}
	got := MinuteCloses(samples, 10)
	want := []float64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("ожидали %v, получили %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ожидали %v, получили %v", want, got)
		}
	}
}
