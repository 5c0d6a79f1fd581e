package ws

import (
	"testing"
	"time"
)

func TestHubSubscribeAndPublish(t *testing.T) {
	hub := NewHub()
	client := NewClient(nil)

	hub.Subscribe("market:items", client)
	hub.Publish("market:items", []byte(`{"event":"item_listed"}`))

	select {
	case msg := <-client.out:
		if string(msg) != `{"event":"item_listed"}` {
			t.Fatalf("unexpected payload: %s", string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for message")
	}

	hub.UnsubscribeAll(client)
}

func TestSubscriptionTopic(t *testing.T) {
	cases := []struct {
		msg  subscribeMessage
		want string
	}{
		{subscribeMessage{Channel: "market:items"}, "market:items"},
		{subscribeMessage{Channel: " Market:Items "}, "market:items"},
		{subscribeMessage{Channel: "account:items", AccountID: "alice"}, "account:items:alice"},
		{subscribeMessage{Channel: "account:items"}, ""},
		{subscribeMessage{Channel: "registry:transfers"}, ""},
		{subscribeMessage{}, ""},
	}
	for _, tc := range cases {
		if got := subscriptionTopic(tc.msg); got != tc.want {
			t.Errorf("subscriptionTopic(%+v) = %q, want %q", tc.msg, got, tc.want)
		}
	}
}
