package router

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	mu  sync.Mutex
	got []any
}

func (r *recorder) Handle(payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, payload)
	return nil
}

func (r *recorder) payloads() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.got...)
}

func TestSubscribe_IsIdempotent(t *testing.T) {
	r := New(zap.NewNop(), nil)
	h := &recorder{}

	r.Subscribe("telemetry", h)
	r.Subscribe("telemetry", h)
	if n := r.Subscribers("telemetry"); n != 1 {
		t.Fatalf("subscribers=%d want 1", n)
	}

	r.Publish("telemetry", 1)
	if got := h.payloads(); !reflect.DeepEqual(got, []any{1}) {
		t.Fatalf("payloads=%v want [1]", got)
	}
}

func TestUnsubscribe_UnknownHandlerIsNoop(t *testing.T) {
	r := New(zap.NewNop(), nil)
	kept := &recorder{}
	r.Subscribe("status", kept)

	r.Unsubscribe("status", &recorder{})
	r.Unsubscribe("other", kept)

	if n := r.Subscribers("status"); n != 1 {
		t.Fatalf("subscribers=%d want 1", n)
	}
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	r := New(zap.NewNop(), nil)
	a, b := &recorder{}, &recorder{}
	r.Subscribe("status", a)
	r.Subscribe("status", b)
	r.Unsubscribe("status", a)

	r.Publish("status", "x")
	if len(a.payloads()) != 0 {
		t.Fatalf("unsubscribed handler received %v", a.payloads())
	}
	if got := b.payloads(); !reflect.DeepEqual(got, []any{"x"}) {
		t.Fatalf("payloads=%v want [x]", got)
	}
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	r := New(zap.NewNop(), nil)
	r.Publish("nobody", struct{}{})
}

func TestPublish_DeliversInSubscriptionOrder(t *testing.T) {
	r := New(zap.NewNop(), nil)
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		r.Subscribe("telemetry", Func(name, func(any) error {
			order = append(order, name)
			return nil
		}))
	}

	r.Publish("telemetry", nil)
	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Fatalf("order=%v want [a b c]", order)
	}
}

func TestPublish_FailingHandlerDoesNotStopDelivery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := New(zap.New(core), nil)

	r.Subscribe("telemetry", Func("panics", func(any) error { panic("boom") }))
	r.Subscribe("telemetry", Func("errors", func(any) error { return errors.New("bad payload") }))
	second := &recorder{}
	r.Subscribe("telemetry", second)

	r.Publish("telemetry", 42)

	if got := second.payloads(); !reflect.DeepEqual(got, []any{42}) {
		t.Fatalf("payloads=%v want [42]", got)
	}
	if n := logs.FilterMessage("router: handler panicked").Len(); n != 1 {
		t.Fatalf("panic logs=%d want 1", n)
	}
	if n := logs.FilterMessage("router: handler failed").Len(); n != 1 {
		t.Fatalf("error logs=%d want 1", n)
	}
}

func TestPublish_SubscriberAddedDuringDeliveryNotInvoked(t *testing.T) {
	r := New(zap.NewNop(), nil)
	late := &recorder{}
	r.Subscribe("status", Func("adds", func(any) error {
		r.Subscribe("status", late)
		return nil
	}))

	r.Publish("status", "first")
	if len(late.payloads()) != 0 {
		t.Fatalf("late subscriber saw in-flight publish: %v", late.payloads())
	}

	r.Publish("status", "second")
	if got := late.payloads(); !reflect.DeepEqual(got, []any{"second"}) {
		t.Fatalf("payloads=%v want [second]", got)
	}
}

func TestPublish_UIHandlersRunOnDispatcher(t *testing.T) {
	loop := NewLoop()
	r := New(zap.NewNop(), loop)

	inline := &recorder{}
	ui := &recorder{}
	r.Subscribe("telemetry", ui, OnUI())
	r.Subscribe("telemetry", inline)

	r.Publish("telemetry", "p")

	if got := inline.payloads(); !reflect.DeepEqual(got, []any{"p"}) {
		t.Fatalf("inline payloads=%v want [p]", got)
	}
	if len(ui.payloads()) != 0 {
		t.Fatalf("ui handler ran on publisher: %v", ui.payloads())
	}
	if n := loop.RunPending(); n != 1 {
		t.Fatalf("ran=%d want 1", n)
	}
	if got := ui.payloads(); !reflect.DeepEqual(got, []any{"p"}) {
		t.Fatalf("ui payloads=%v want [p]", got)
	}
}

func TestPublish_UIHandlerWithoutDispatcherIsDropped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := New(zap.New(core), nil)
	ui := &recorder{}
	r.Subscribe("telemetry", ui, OnUI())

	r.Publish("telemetry", 1)
	if len(ui.payloads()) != 0 {
		t.Fatalf("ui handler ran without dispatcher")
	}
	if logs.Len() != 1 {
		t.Fatalf("logs=%d want 1", logs.Len())
	}
}

func TestPublish_PerCategoryOrderAcrossGoroutineBoundary(t *testing.T) {
	loop := NewLoop()
	r := New(zap.NewNop(), loop)
	ui := &recorder{}
	r.Subscribe("telemetry", ui, OnUI())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	for i := 0; i < 100; i++ {
		r.Publish("telemetry", i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(ui.payloads()) < 100 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, got %d payloads", len(ui.payloads()))
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	for i, p := range ui.payloads() {
		if p.(int) != i {
			t.Fatalf("payload[%d]=%v want %d", i, p, i)
		}
	}
}
