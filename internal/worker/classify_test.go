package worker

import (
	"fmt"
	"testing"
	"time"

	"liguns/internal/meta"
	"liguns/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want Classification
	}{
		{"OAuthException: token expired", Fatal},
		{"Error 503 Service Unavailable", Temporary},
		{"weird unseen error", Temporary},
		{"Insufficient PERMISSIONS to post", Fatal},
		{"Instagram account must be a Business Account", Fatal},
		{"connection reset by peer", Temporary},
		{"Rate limit reached, try again later", Temporary},
		{"Invalid App ID", Fatal},
		{"timeout while contacting token endpoint", Fatal},
		{"", Temporary},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.msg))
		})
	}
}

func TestRetryPolicy_Decide(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3}

	t.Run("TemporaryBelowCap", func(t *testing.T) {
		tr := p.Decide(Temporary, 2)
		assert.Equal(t, TransitionRetry, tr.Kind)
		assert.Equal(t, 3, tr.NextCount)
		assert.Equal(t, models.StatusQueued, tr.Status)
	})

	t.Run("TemporaryAtCap", func(t *testing.T) {
		tr := p.Decide(Temporary, 3)
		assert.Equal(t, TransitionTerminal, tr.Kind)
		assert.Equal(t, 3, tr.NextCount)
		assert.Equal(t, models.StatusFailed, tr.Status)
	})

	t.Run("Fatal", func(t *testing.T) {
		tr := p.Decide(Fatal, 0)
		assert.Equal(t, TransitionTerminal, tr.Kind)
		assert.Equal(t, 0, tr.NextCount)
		assert.Equal(t, models.StatusFailed, tr.Status)
	})
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Minute, MaxDelay: 5 * time.Minute, BackoffFactor: 2}

	assert.Equal(t, time.Minute, p.NextDelay(0))
	assert.Equal(t, time.Minute, p.NextDelay(1))
	assert.Equal(t, 2*time.Minute, p.NextDelay(2))
	assert.Equal(t, 4*time.Minute, p.NextDelay(3))
	assert.Equal(t, 5*time.Minute, p.NextDelay(4))
	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(1))
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, Fatal, classifyError(meta.ErrImageRequired))
	assert.Equal(t, Fatal, classifyError(ErrInvalidEntry))
	assert.Equal(t, Fatal, classifyError(fmt.Errorf("%w: tiktok", ErrUnsupportedPlatform)))
	assert.Equal(t, Temporary, classifyError(&meta.PublishError{Raw: "Error 503 Service Unavailable"}))
	assert.Equal(t, Fatal, classifyError(&meta.PublishError{Raw: "OAuthException: token expired"}))
}
