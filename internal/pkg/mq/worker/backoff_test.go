package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLinear(t *testing.T) {
	b := Linear(30 * time.Second)
	assert.Equal(t, 30*time.Second, b(0))
	assert.Equal(t, 30*time.Second, b(1))
	assert.Equal(t, 30*time.Second, b(99))
}

func TestSteps(t *testing.T) {
	b := Steps(10*time.Second, 30*time.Second, 60*time.Second)
	assert.Equal(t, 10*time.Second, b(0))
	assert.Equal(t, 30*time.Second, b(1))
	assert.Equal(t, 60*time.Second, b(2))
	assert.Equal(t, 60*time.Second, b(3), "stays on the last delay")
	assert.Equal(t, 10*time.Second, b(-1))
	assert.Equal(t, time.Duration(0), Steps()(0))
}

func TestRetryPolicyNext(t *testing.T) {
	p := RetryPolicy{MaxTries: 3, Backoff: Linear(time.Second)}

	delay, ok := p.Next(0)
	assert.True(t, ok)
	assert.Equal(t, time.Second, delay)

	_, ok = p.Next(1)
	assert.True(t, ok)

	_, ok = p.Next(2)
	assert.False(t, ok, "third completed try exhausts a three-try budget")
	_, ok = p.Next(5)
	assert.False(t, ok)
}
