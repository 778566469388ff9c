package ws

import (
	"encoding/json"
	"testing"
)

func register(t *testing.T, h *Hub, userID int) *Conn {
	t.Helper()
	conn := newConn(nil, userID)
	h.Register(conn)
	return conn
}

func nextFrame(t *testing.T, conn *Conn) Envelope {
	t.Helper()
	select {
	case raw := <-conn.send:
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return env
	default:
		t.Fatalf("expected a queued frame")
		return Envelope{}
	}
}

func TestHubJoinAndLeave(t *testing.T) {
	hub := NewHub()
	conn := register(t, hub, 1)

	hub.Join(conn, ChatChannel(5))
	if !hub.Subscribed(conn, ChatChannel(5)) {
		t.Fatalf("expected subscription after join")
	}

	hub.Leave(conn, ChatChannel(5))
	if hub.Subscribed(conn, ChatChannel(5)) {
		t.Fatalf("expected no subscription after leave")
	}
	if len(hub.rooms) != 0 {
		t.Fatalf("expected empty room to be dropped")
	}
}

func TestHubJoinUnregisteredIsNoop(t *testing.T) {
	hub := NewHub()
	conn := newConn(nil, 1)

	hub.Join(conn, ChatChannel(5))
	if len(hub.rooms) != 0 {
		t.Fatalf("unregistered conn must not create a room")
	}
}

func TestHubPublishSkipsExcluded(t *testing.T) {
	hub := NewHub()
	sender := register(t, hub, 1)
	receiver := register(t, hub, 2)
	hub.Join(sender, ChatChannel(9))
	hub.Join(receiver, ChatChannel(9))

	hub.Publish(ChatChannel(9), EventMessageNew, map[string]int{"id": 1}, sender.ID)

	env := nextFrame(t, receiver)
	if env.Event != EventMessageNew {
		t.Fatalf("unexpected event %q", env.Event)
	}
	if len(sender.send) != 0 {
		t.Fatalf("excluded conn must not receive the frame")
	}
}

func TestHubPublishToUsers(t *testing.T) {
	hub := NewHub()
	a := register(t, hub, 1)
	b := register(t, hub, 2)
	c := register(t, hub, 3)
	hub.Join(a, UserChannel(1))
	hub.Join(b, UserChannel(2))
	hub.Join(c, UserChannel(3))

	hub.PublishToUsers([]int{1, 3}, EventChatUpdate, nil)

	if len(a.send) != 1 || len(c.send) != 1 {
		t.Fatalf("expected frames on listed users")
	}
	if len(b.send) != 0 {
		t.Fatalf("unlisted user must not receive the frame")
	}
}

func TestHubDropsFrameWhenOutboxFull(t *testing.T) {
	hub := NewHub()
	conn := register(t, hub, 1)
	hub.Join(conn, ChatChannel(2))

	for i := 0; i < sendBuffer; i++ {
		conn.enqueue([]byte("x"))
	}

	// Must not block even though the outbox is full.
	hub.Publish(ChatChannel(2), EventChatAI, nil)

	if len(conn.send) != sendBuffer {
		t.Fatalf("expected the overflow frame to be dropped")
	}
}

func TestHubUnregisterLeavesAllRooms(t *testing.T) {
	hub := NewHub()
	conn := register(t, hub, 1)
	hub.Join(conn, ChatChannel(1))
	hub.Join(conn, ChatChannel(2))

	hub.Unregister(conn)

	if len(hub.rooms) != 0 {
		t.Fatalf("expected all rooms gone after unregister")
	}
	if _, ok := <-conn.send; ok {
		t.Fatalf("expected outbox closed")
	}

	// A second unregister must not panic.
	hub.Unregister(conn)
}

func TestEnqueueAfterCloseIsDropped(t *testing.T) {
	hub := NewHub()
	conn := register(t, hub, 1)
	hub.Join(conn, ChatChannel(3))

	// A publish can snapshot the room members, lose the race with the
	// disconnect, and only then reach the outbox. That late enqueue must
	// be a silent drop, not a write to a closed channel.
	hub.Unregister(conn)
	conn.enqueue([]byte("late"))
	conn.Send(EventChatAI, nil, 0)

	if _, ok := <-conn.send; ok {
		t.Fatalf("expected no frame after close")
	}
}

func TestHubBroadcastAll(t *testing.T) {
	hub := NewHub()
	a := register(t, hub, 1)
	b := register(t, hub, 2)

	hub.BroadcastAll(EventOnlineUsers, []int{1, 2})

	for _, conn := range []*Conn{a, b} {
		env := nextFrame(t, conn)
		if env.Event != EventOnlineUsers {
			t.Fatalf("unexpected event %q", env.Event)
		}
	}
}
