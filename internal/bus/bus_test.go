package bus

import "testing"

func TestPublishReachesSubscriber(t *testing.T) {
	b := New()
	got := make(chan any, 1)
	unsub := b.Subscribe("topic", func(msg any) { got <- msg })
	defer unsub()

	b.Publish("topic", "hello")
	select {
	case msg := <-got:
		if msg != "hello" {
			t.Fatalf("unexpected message: %v", msg)
		}
	default:
		t.Fatal("subscriber did not receive message")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	count := 0
	unsub := b.Subscribe("topic", func(any) { count++ })

	b.Publish("topic", 1)
	unsub()
	b.Publish("topic", 2)
	unsub() // idempotent

	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
	if b.SubscriberCount("topic") != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount("topic"))
	}
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	b := New()
	count := 0
	defer b.Subscribe("a", func(any) { count++ })()

	b.Publish("b", "msg")
	if count != 0 {
		t.Fatal("message leaked across topics")
	}
}

func TestUnansweredConfirmationRequestAutoDenies(t *testing.T) {
	b := New()
	responses := make(chan ConfirmationResponse, 1)
	defer b.Subscribe(TopicConfirmationResponse, func(msg any) {
		responses <- msg.(ConfirmationResponse)
	})()

	b.Publish(TopicConfirmationRequest, ConfirmationRequest{CorrelationID: "c-1", Tool: "exec"})

	select {
	case resp := <-responses:
		if resp.CorrelationID != "c-1" {
			t.Fatalf("wrong correlation id: %s", resp.CorrelationID)
		}
		if resp.Confirmed {
			t.Fatal("auto response must deny, not approve")
		}
	default:
		t.Fatal("expected an automatic denial when no approver is subscribed")
	}
}

func TestSubscribedConfirmationRequestIsNotAutoDenied(t *testing.T) {
	b := New()
	denied := false
	defer b.Subscribe(TopicConfirmationResponse, func(any) { denied = true })()
	defer b.Subscribe(TopicConfirmationRequest, func(any) {})()

	b.Publish(TopicConfirmationRequest, ConfirmationRequest{CorrelationID: "c-2"})
	if denied {
		t.Fatal("auto denial fired despite a live approver subscription")
	}
}
