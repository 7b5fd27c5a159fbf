package fallback

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"nil", nil, None},
		{"tagged", Errorf(Status, "status %d", 500), Status},
		{"wrapped tag", fmt.Errorf("translate: %w", Wrap(Parse, errors.New("bad json"))), Parse},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), Timeout},
		{"canceled", context.Canceled, Canceled},
		{"plain", errors.New("connection refused"), Network},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(Network, nil))
}

func TestReasonDegraded(t *testing.T) {
	assert.False(t, None.Degraded())
	assert.True(t, Empty.Degraded())
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "timeout", Timeout.String())
}
