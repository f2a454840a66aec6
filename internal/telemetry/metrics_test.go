package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{0, BucketP10},
		{9 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{99 * time.Millisecond, BucketP100},
		{100 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestCircularBuffer(t *testing.T) {
	b := NewCircularBuffer[int](3)
	assert.Empty(t, b.Items())

	b.Add(1)
	b.Add(2)
	assert.Equal(t, []int{1, 2}, b.Items())

	b.Add(3)
	b.Add(4)
	b.Add(5)
	assert.Equal(t, []int{3, 4, 5}, b.Items())
	assert.Equal(t, 3, b.Size())
}

func TestCircularBuffer_DefaultCapacity(t *testing.T) {
	b := NewCircularBuffer[string](0)
	for i := 0; i < 150; i++ {
		b.Add("q")
	}
	assert.Equal(t, 100, b.Size())
}
