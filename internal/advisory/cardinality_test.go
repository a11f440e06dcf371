package advisory

import "testing"

func TestEstimateCardinality_EmptySampleIsZero(t *testing.T) {
	if got := estimateCardinality(nil); got != 0 {
		t.Fatalf("expected 0 for an empty sample, got %d", got)
	}
}

func TestEstimateCardinality_AllDuplicatesStaysLow(t *testing.T) {
	samples := make([]string, 200)
	for i := range samples {
		samples[i] = "same-value"
	}
	got := estimateCardinality(samples)
	if got < 1 || got > 5 {
		t.Fatalf("expected a near-1 estimate for 200 identical samples, got %d", got)
	}
}

func TestEstimateCardinality_DistinctValuesScaleWithSampleSize(t *testing.T) {
	small := make([]string, 20)
	for i := range small {
		small[i] = string(rune('a'+i%20)) + string(rune('0'+i%10))
	}
	large := make([]string, 2000)
	for i := range large {
		large[i] = string(rune('a'+i%26)) + string(rune('A'+i%26)) + string(rune('0'+i%10)) + string(rune('!'+i%20))
	}

	smallEstimate := estimateCardinality(small)
	largeEstimate := estimateCardinality(large)
	if largeEstimate <= smallEstimate {
		t.Fatalf("expected a sample with far more distinct values to estimate higher, got small=%d large=%d",
			smallEstimate, largeEstimate)
	}
}

func TestEstimateCardinality_SampleLargerThanBitmapIsPositive(t *testing.T) {
	samples := make([]string, linearCountingBits*4)
	for i := range samples {
		samples[i] = string(rune(i))
	}
	got := estimateCardinality(samples)
	if got <= 0 {
		t.Fatalf("expected a positive estimate for a sample four times the bitmap size, got %d", got)
	}
}
