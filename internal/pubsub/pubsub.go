package pubsub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"termdock/internal/api"
	"termdock/internal/logging"
)

// Publisher is the in-process notification bus. Capability providers publish
// onto named channels; the local adapter subscribes UI listeners directly and
// the daemon taps the bus to forward events to remote clients.
//
// Delivery is synchronous in the publisher's goroutine, so events on one
// channel reach every listener in publish order.
type Publisher struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[api.Channel][]*listener
	taps   []TapFunc
}

// TapFunc observes every published event regardless of channel.
type TapFunc func(ch api.Channel, payload []byte)

type listener struct {
	id  uint64
	fn  api.EventHandler
	pub *Publisher
	ch  api.Channel
}

// Cancel removes exactly this listener from its channel.
func (l *listener) Cancel() {
	l.pub.mu.Lock()
	defer l.pub.mu.Unlock()
	list := l.pub.subs[l.ch]
	for i, s := range list {
		if s.id == l.id {
			l.pub.subs[l.ch] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// NewPublisher creates an empty bus.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[api.Channel][]*listener)}
}

// Subscribe registers fn on ch. Multiple listeners per channel are allowed;
// each event reaches all of them.
func (p *Publisher) Subscribe(ch api.Channel, fn api.EventHandler) api.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	l := &listener{id: p.nextID, fn: fn, pub: p, ch: ch}
	p.subs[ch] = append(p.subs[ch], l)
	return l
}

// Tap registers an observer for all channels. Taps cannot be removed; they
// live as long as the process-wide bus.
func (p *Publisher) Tap(fn TapFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.taps = append(p.taps, fn)
}

// Publish marshals payload once and delivers it to every listener on ch,
// then to every tap.
func (p *Publisher) Publish(ch api.Channel, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.L().Warn("drop unmarshalable event", zap.String("channel", string(ch)), zap.Error(err))
		return
	}
	p.PublishRaw(ch, data)
}

// PublishRaw delivers an already-encoded payload.
func (p *Publisher) PublishRaw(ch api.Channel, payload []byte) {
	p.mu.Lock()
	list := make([]*listener, len(p.subs[ch]))
	copy(list, p.subs[ch])
	taps := make([]TapFunc, len(p.taps))
	copy(taps, p.taps)
	p.mu.Unlock()

	for _, l := range list {
		l.fn(payload)
	}
	for _, t := range taps {
		t(ch, payload)
	}
}
