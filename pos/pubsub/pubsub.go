package pubsub

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
)

const subscriberBuffer = 16

type Message struct {
	topic   string
	payload []byte
}

func NewMessage(msg []byte, topic string) *Message {
	return &Message{
		topic:   topic,
		payload: msg,
	}
}

func (m *Message) Topic() string {
	return m.topic
}

func (m *Message) Payload() []byte {
	return m.payload
}

type Subscribers map[string]*Subscriber

// PubSub fans out messages published on a topic to every
// active subscriber of that topic.
type PubSub struct {
	topics map[string]Subscribers
	mu     sync.RWMutex
}

func NewPubSub() *PubSub {
	return &PubSub{
		topics: make(map[string]Subscribers),
	}
}

func (b *PubSub) Subscribe(topic string) *Subscriber {
	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(Subscribers)
	}
	s := NewSubscriber()
	b.topics[topic][s.id] = s
	b.mu.Unlock()

	return s
}

func (b *PubSub) Unsubscribe(s *Subscriber, topic string) {
	b.mu.Lock()
	delete(b.topics[topic], s.id)
	if len(b.topics[topic]) == 0 {
		delete(b.topics, topic)
	}
	b.mu.Unlock()
}

// Publish never blocks. A subscriber whose buffer is full misses the
// message and is signaled on Missed.
func (b *PubSub) Publish(topic string, msg []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m := NewMessage(msg, topic)
	for _, s := range b.topics[topic] {
		s.signal(m)
	}
}

type Subscriber struct {
	id       string
	messages chan *Message
	// signaled when a message was dropped on a full buffer
	missed chan struct{}
	active bool
	mu     sync.Mutex
}

func NewSubscriber() *Subscriber {
	id := make([]byte, 16)
	rand.Read(id)

	return &Subscriber{
		id:       hex.EncodeToString(id),
		messages: make(chan *Message, subscriberBuffer),
		missed:   make(chan struct{}, 1),
		active:   true,
	}
}

func (s *Subscriber) signal(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	select {
	case s.messages <- msg:
	default:
		select {
		case s.missed <- struct{}{}:
		default:
		}
	}
}

func (s *Subscriber) GetMessages() <-chan *Message {
	return s.messages
}

// Missed delivers a value after at least one message was dropped
// because the subscriber did not keep up.
func (s *Subscriber) Missed() <-chan struct{} {
	return s.missed
}

func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.active = false
		close(s.messages)
	}
}
