package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestFromContext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		ctx      context.Context
		expected *zap.SugaredLogger
	}{
		{name: "default", ctx: context.Background(), expected: DefaultLogger()},
	}
	custom := zap.NewNop().Sugar()
	tests = append(tests, struct {
		name     string
		ctx      context.Context
		expected *zap.SugaredLogger
	}{name: "attached", ctx: WithLogger(context.Background(), custom), expected: custom})

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if got := FromContext(test.ctx); got != test.expected {
				t.Errorf("logger from context, got: %p, expected: %p", got, test.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()
	if NewLogger(true) == nil {
		t.Errorf("debug logger must not be nil")
	}
	if NewLogger(false) == nil {
		t.Errorf("logger must not be nil")
	}
}
