package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.False(t, IsRetryableError(fmt.Errorf("invalid api key")))

	for _, msg := range []string{
		"429 Too Many Requests",
		"rate limit exceeded",
		"server overloaded",
		"upstream timeout",
		"connection reset by peer",
		"503 Service Unavailable",
	} {
		assert.True(t, IsRetryableError(fmt.Errorf("%s", msg)), msg)
	}
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5}
	u.Add(Usage{InputTokens: 3, OutputTokens: 2})
	assert.Equal(t, 13, u.InputTokens)
	assert.Equal(t, 7, u.OutputTokens)
}
