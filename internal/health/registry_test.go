package health

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("postgres", CheckFunc(func(ctx context.Context) error { return nil }))
	r.Register("redis", CheckFunc(func(ctx context.Context) error { return errors.New("connection refused") }))

	if got := r.List(); !reflect.DeepEqual(got, []string{"postgres", "redis"}) {
		t.Errorf("List() = %v", got)
	}

	results := r.CheckAll(context.Background())
	if results["postgres"] != nil {
		t.Errorf("postgres = %v, want nil", results["postgres"])
	}
	if results["redis"] == nil {
		t.Error("redis = nil, want error")
	}
	if Healthy(results) {
		t.Error("Healthy() = true with a failing dependency")
	}

	r.Unregister("redis")
	if !Healthy(r.CheckAll(context.Background())) {
		t.Error("Healthy() = false after removing the failing dependency")
	}
}
