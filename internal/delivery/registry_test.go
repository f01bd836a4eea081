// internal/delivery/registry_test.go
package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/user/shadowshift/internal/types"
)

func suggestion(source types.Source, tid string) *types.Suggestion {
	return &types.Suggestion{Source: source, ThreadID: tid, Body: "hello"}
}

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var got *types.Suggestion
	reg.Register("test", "chat:", func(_ context.Context, s *types.Suggestion) error {
		got = s
		return nil
	})

	want := suggestion(types.SourceChat, "123")
	if err := reg.Deliver(context.Background(), want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("handler got %+v, want %+v", got, want)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register("mail-only", "mail:", func(context.Context, *types.Suggestion) error { return nil })

	err := reg.Deliver(context.Background(), suggestion(types.SourceVCS, "org/repo"))
	if err == nil {
		t.Fatal("expected error for unmatched key, got nil")
	}
}

func TestRegistryFansOut(t *testing.T) {
	reg := NewRegistry()

	var order []string
	reg.Register("store", "", func(context.Context, *types.Suggestion) error {
		order = append(order, "store")
		return nil
	})
	reg.Register("telegram", "mail:", func(context.Context, *types.Suggestion) error {
		order = append(order, "telegram")
		return nil
	})

	if err := reg.Deliver(context.Background(), suggestion(types.SourceMail, "t1")); err != nil {
		t.Fatalf("mail deliver error: %v", err)
	}
	if err := reg.Deliver(context.Background(), suggestion(types.SourceChat, "general")); err != nil {
		t.Fatalf("chat deliver error: %v", err)
	}

	want := []string{"store", "telegram", "store"}
	if len(order) != len(want) {
		t.Fatalf("calls = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestRegistryJoinsErrors(t *testing.T) {
	reg := NewRegistry()
	errDown := errors.New("down")

	var storeCalled bool
	reg.Register("telegram", "", func(context.Context, *types.Suggestion) error { return errDown })
	reg.Register("store", "", func(context.Context, *types.Suggestion) error {
		storeCalled = true
		return nil
	})

	err := reg.Deliver(context.Background(), suggestion(types.SourceChat, "c"))
	if !errors.Is(err, errDown) {
		t.Fatalf("expected joined error wrapping errDown, got %v", err)
	}
	if err.Error() != "telegram: down" {
		t.Errorf("error = %q", err.Error())
	}
	if !storeCalled {
		t.Error("later handler was skipped after a failure")
	}
}

func TestRegistryReplaceByName(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	reg.Register("h", "", func(context.Context, *types.Suggestion) error { return errors.New("old") })
	reg.Register("h", "", func(context.Context, *types.Suggestion) error {
		calls++
		return nil
	})

	if err := reg.Deliver(context.Background(), suggestion(types.SourceMail, "x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected replaced handler to run once, got %d", calls)
	}
	if names := reg.Names(); len(names) != 1 {
		t.Errorf("Names() = %v", names)
	}
}
