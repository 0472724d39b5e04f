package tools

import (
	"context"
	"time"

	"github.com/toolplan/toolplan/internal/policy"
)

func addNumbers(_ context.Context, input map[string]any) (any, error) {
	a, err := numArg(input, "a")
	if err != nil {
		return nil, err
	}
	b, err := numArg(input, "b")
	if err != nil {
		return nil, err
	}
	return a + b, nil
}

func multiplyNumbers(_ context.Context, input map[string]any) (any, error) {
	a, err := numArg(input, "a")
	if err != nil {
		return nil, err
	}
	b, err := numArg(input, "b")
	if err != nil {
		return nil, err
	}
	return a * b, nil
}

func calculatePercentage(_ context.Context, input map[string]any) (any, error) {
	part, err := numArg(input, "part")
	if err != nil {
		return nil, err
	}
	whole, err := numArg(input, "whole")
	if err != nil {
		return nil, err
	}
	if whole == 0 {
		return nil, policy.Fatal(policy.CodeToolFailure, "whole must not be zero")
	}
	return part / whole * 100, nil
}

// nowFunc is swapped in tests.
var nowFunc = time.Now

func currentTime(_ context.Context, _ map[string]any) (any, error) {
	return nowFunc().UTC().Format(time.RFC3339), nil
}
