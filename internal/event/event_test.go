package event_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Temur101/dictionary/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a single subscriber should receive the matching event only": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("game.finished"),
						eventWithName("stats.updated"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"game.finished"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("game.finished")}, out.received["s1"])
			},
		},

		"a subscriber should receive every published occurrence": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("game.finished"),
						eventWithName("game.finished"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"game.finished"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["s1"], 2)
			},
		},

		"an event should be dispatched to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("stats.updated"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"stats.updated"},
						},
						{
							name:        "s2",
							subscribeTo: []string{"stats.updated"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("stats.updated")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{eventWithName("stats.updated")}, out.received["s2"])
			},
		},

		"a failing handler should not affect other subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						eventWithName("game.finished"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{"game.finished"},
							err:         errors.New("boom"),
						},
						{
							name:        "s2",
							subscribeTo: []string{"game.finished"},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{eventWithName("game.finished")}, out.received["s2"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{
				received: make(map[string][]event.Event),
			}

			b := event.NewBus()

			var mu sync.Mutex
			for _, s := range in.subscribers {
				s := s
				for _, name := range s.subscribeTo {
					b.Subscribe(name, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return s.err
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}

			b.Stop()

			tt.assert(t, out)
		})
	}
}

type subscriber struct {
	name        string
	subscribeTo []string
	err         error
}

type eventWithName string

func (e eventWithName) Name() string { return string(e) }
