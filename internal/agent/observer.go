package agent

import (
	"context"
	"errors"
)

// Observer receives the outcome of one exchange. Calls arrive from a single
// goroutine in stream order. OnComplete and OnError are mutually exclusive and
// fire at most once; neither fires for a canceled exchange.
type Observer interface {
	// OnEvent receives every decoded event.
	OnEvent(Event)
	// OnMessage receives each assistant message once it is complete.
	OnMessage(Message)
	OnError(error)
	OnComplete()
}

// NopObserver ignores everything. Embed it to implement only some methods.
type NopObserver struct{}

func (NopObserver) OnEvent(Event)     {}
func (NopObserver) OnMessage(Message) {}
func (NopObserver) OnError(error)     {}
func (NopObserver) OnComplete()       {}

// guardedObserver drops callbacks once its exchange is canceled.
type guardedObserver struct {
	ctx context.Context
	ex  *Exchange
	obs Observer
}

func (g guardedObserver) live() bool {
	if g.ex.canceled.Load() {
		return false
	}
	return !errors.Is(g.ctx.Err(), context.Canceled)
}

func (g guardedObserver) OnEvent(ev Event) {
	if g.live() {
		g.obs.OnEvent(ev)
	}
}

func (g guardedObserver) OnMessage(msg Message) {
	if g.live() {
		g.obs.OnMessage(msg)
	}
}

func (g guardedObserver) OnError(err error) {
	if g.live() {
		g.obs.OnError(err)
	}
}

func (g guardedObserver) OnComplete() {
	if g.live() {
		g.obs.OnComplete()
	}
}
