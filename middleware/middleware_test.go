package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, info Info) ([]byte, error) {
				order = append(order, name+":before")
				result, err := next(ctx, info)
				order = append(order, name+":after")
				return result, err
			}
		}
	}

	h := Chain(func(ctx context.Context, info Info) ([]byte, error) {
		order = append(order, "body")
		return []byte("ok"), nil
	}, mk("outer"), mk("inner"))

	result, err := h(context.Background(), Info{Step: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "ok" {
		t.Fatalf("result = %q, want %q", result, "ok")
	}

	want := []string{"outer:before", "inner:before", "body", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestChainEmpty(t *testing.T) {
	h := Chain(func(ctx context.Context, info Info) ([]byte, error) {
		return []byte("direct"), nil
	})
	result, err := h(context.Background(), Info{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "direct" {
		t.Fatalf("result = %q, want %q", result, "direct")
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	h := Recover()(func(ctx context.Context, info Info) ([]byte, error) {
		panic("boom")
	})

	result, err := h(context.Background(), Info{Step: "volatile"})
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
	if result != nil {
		t.Fatalf("result = %v, want nil", result)
	}
	if !strings.Contains(err.Error(), "volatile") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error %q should name the step and the panic value", err)
	}
}

func TestRecoverPassesThrough(t *testing.T) {
	want := errors.New("ordinary failure")
	h := Recover()(func(ctx context.Context, info Info) ([]byte, error) {
		return nil, want
	})
	if _, err := h(context.Background(), Info{}); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestTimeoutBoundsAttempt(t *testing.T) {
	h := Timeout(0)(func(ctx context.Context, info Info) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return []byte("too late"), nil
		}
	})

	start := time.Now()
	_, err := h(context.Background(), Info{Timeout: 20 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took %v, expected prompt cancellation", elapsed)
	}
}

func TestTimeoutDefaultApplies(t *testing.T) {
	h := Timeout(20 * time.Millisecond)(func(ctx context.Context, info Info) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if _, err := h(context.Background(), Info{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestTimeoutUnboundedWhenZero(t *testing.T) {
	h := Timeout(0)(func(ctx context.Context, info Info) ([]byte, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Fatal("unexpected deadline on context")
		}
		return []byte("ok"), nil
	})
	if _, err := h(context.Background(), Info{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
