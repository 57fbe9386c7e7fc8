package eventbus

import "testing"

func TestFireDispatchesInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int

	b.On("x", func(detail any) { order = append(order, 1) })
	b.On("x", func(detail any) { order = append(order, 2) })
	b.On("x", func(detail any) { order = append(order, 3) })

	b.Fire("x", nil)

	want := []int{1, 2, 3}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestFirePassesDetail(t *testing.T) {
	b := New()
	var got string
	b.On(EventTextReceived, func(detail any) {
		got = detail.(string)
	})
	b.Fire(EventTextReceived, "hello")
	if got != "hello" {
		t.Errorf("expected hello, got %q", got)
	}
}

func TestFireWithNoListenersIsNoop(t *testing.T) {
	b := New()
	b.Fire(EventPeers, nil)
}

func TestListenersForDifferentTypesAreIndependent(t *testing.T) {
	b := New()
	var aCalled, bCalled bool
	b.On("a", func(detail any) { aCalled = true })
	b.On("b", func(detail any) { bCalled = true })

	b.Fire("a", nil)

	if !aCalled {
		t.Error("expected listener for a to be called")
	}
	if bCalled {
		t.Error("expected listener for b not to be called")
	}
}
