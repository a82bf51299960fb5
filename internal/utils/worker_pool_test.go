package utils_test

import (
	"context"
	"fmt"
	"lora-runner/internal/utils"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunInPool(t *testing.T) {
	worker := func(_ context.Context, i int) (string, error) {
		if i%4 == 3 {
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return "", fmt.Errorf("error")
		}
		return fmt.Sprintf("%d-%d", i, i), nil
	}

	inputs := make([]int, 10)
	for i := range inputs {
		inputs[i] = i
	}

	success, errors := 0, 0
	seen := make(map[int]bool)
	for result := range utils.RunInPool(context.Background(), worker, inputs, 5) {
		seen[result.Index] = true
		if result.Error != nil {
			errors++
		} else {
			success++
			assert.Equal(t, fmt.Sprintf("%d-%d", result.Index, result.Index), result.Result)
		}
	}

	assert.Equal(t, 8, success)
	assert.Equal(t, 2, errors)
	assert.Len(t, seen, 10)
}

func TestRunInPoolBoundsWorkers(t *testing.T) {
	var active, peak atomic.Int32
	worker := func(_ context.Context, i int) (int, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return i, nil
	}

	count := 0
	for range utils.RunInPool(context.Background(), worker, make([]int, 12), 3) {
		count++
	}

	assert.Equal(t, 12, count)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunInPoolCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := atomic.Int32{}
	worker := func(_ context.Context, i int) (int, error) {
		called.Add(1)
		return i, nil
	}

	errs := 0
	for result := range utils.RunInPool(ctx, worker, make([]int, 4), 2) {
		if result.Error != nil {
			errs++
		}
	}

	assert.Equal(t, 4, errs)
	assert.Equal(t, int32(0), called.Load())
}

func TestRunInPoolEmpty(t *testing.T) {
	worker := func(_ context.Context, i int) (int, error) { return i, nil }

	count := 0
	for range utils.RunInPool(context.Background(), worker, nil, 4) {
		count++
	}
	assert.Equal(t, 0, count)
}
