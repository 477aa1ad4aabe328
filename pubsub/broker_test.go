package pubsub

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscriber) Message {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := NewBroker()
	if n := b.Publish("news", []byte("hello")); n != 0 {
		t.Errorf("Publish() = %d, want 0", n)
	}
	if b.NumChannels() != 0 {
		t.Error("Publish created a channel")
	}
}

func TestFanOut(t *testing.T) {
	b := NewBroker()
	subs := make([]*Subscriber, 3)
	for i := range subs {
		subs[i] = b.NewSubscriber()
		if n := b.Subscribe(subs[i], "news"); n != 1 {
			t.Fatalf("Subscribe() = %d, want 1", n)
		}
	}

	payload := []byte("hello")
	if n := b.Publish("news", payload); n != 3 {
		t.Errorf("Publish() = %d, want 3", n)
	}
	payload[0] = 'j'

	for i, sub := range subs {
		msg := receive(t, sub)
		if msg.Channel != "news" || string(msg.Payload) != "hello" {
			t.Errorf("subscriber %d got %q on %q", i, msg.Payload, msg.Channel)
		}
	}
}

func TestPublishOrderPerChannel(t *testing.T) {
	b := NewBroker(WithBufferSize(1000))
	a, c := b.NewSubscriber(), b.NewSubscriber()
	b.Subscribe(a, "ch")
	b.Subscribe(c, "ch")

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Publish("ch", []byte(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	for i := 0; i < 400; i++ {
		ma, mc := receive(t, a), receive(t, c)
		if string(ma.Payload) != string(mc.Payload) {
			t.Fatalf("message %d differs between subscribers: %q vs %q", i, ma.Payload, mc.Payload)
		}
	}
}

func TestUnsubscribeRemovesEmptyChannel(t *testing.T) {
	b := NewBroker()
	sub := b.NewSubscriber()
	b.Subscribe(sub, "a")
	b.Subscribe(sub, "b")

	if n := b.Unsubscribe(sub, "a"); n != 1 {
		t.Errorf("Unsubscribe() = %d, want 1", n)
	}
	if b.NumChannels() != 1 {
		t.Errorf("NumChannels() = %d, want 1", b.NumChannels())
	}
	if n := b.Publish("a", []byte("x")); n != 0 {
		t.Errorf("Publish() after unsubscribe = %d", n)
	}

	sub.Close()
	if b.NumChannels() != 0 {
		t.Errorf("NumChannels() after Close = %d", b.NumChannels())
	}
	select {
	case <-sub.Done():
	default:
		t.Error("Done not closed after Close")
	}
	sub.Close()
}

func TestOverflowDropOldest(t *testing.T) {
	b := NewBroker(WithBufferSize(2), WithOverflowPolicy(DropOldest))
	sub := b.NewSubscriber()
	b.Subscribe(sub, "ch")

	for i := 0; i < 5; i++ {
		if n := b.Publish("ch", []byte(fmt.Sprint(i))); n != 1 {
			t.Fatalf("Publish() = %d, want 1", n)
		}
	}

	if got := string(receive(t, sub).Payload); got != "3" {
		t.Errorf("first kept message = %q, want 3", got)
	}
	if got := string(receive(t, sub).Payload); got != "4" {
		t.Errorf("second kept message = %q, want 4", got)
	}
	if sub.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", sub.Dropped())
	}
}

func TestOverflowDisconnect(t *testing.T) {
	b := NewBroker(WithBufferSize(1), WithOverflowPolicy(Disconnect))
	slow, fast := b.NewSubscriber(), b.NewSubscriber()
	b.Subscribe(slow, "ch")
	b.Subscribe(fast, "ch")

	b.Publish("ch", []byte("1"))
	receive(t, fast)

	if n := b.Publish("ch", []byte("2")); n != 1 {
		t.Errorf("Publish() = %d, want 1 (only the fast subscriber)", n)
	}
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber was not disconnected")
	}
	receive(t, fast)

	if n := b.Publish("ch", []byte("3")); n != 1 {
		t.Errorf("Publish() after disconnect = %d, want 1", n)
	}
	if b.Stats()["dropped_messages"] == 0 {
		t.Error("dropped_messages not counted")
	}
}

func TestPolicyString(t *testing.T) {
	if DropOldest.String() != "drop-oldest" || Disconnect.String() != "disconnect" {
		t.Error("unexpected policy names")
	}
}
