// Package logobs logs scope and broadcaster lifecycle events with slog.
package logobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/NetPo4ki/go-flowscope/broadcast"
	"github.com/NetPo4ki/go-flowscope/cancel"
	"github.com/NetPo4ki/go-flowscope/scope"
)

// Observer implements scope.Observer and broadcast.Observer. Lifecycle
// events are logged at Debug, failures at Warn.
type Observer struct {
	log *slog.Logger
}

var (
	_ scope.Observer     = (*Observer)(nil)
	_ broadcast.Observer = (*Observer)(nil)
)

func New(l *slog.Logger) *Observer {
	if l == nil {
		l = slog.Default()
	}
	return &Observer{log: l}
}

func scopeAttrs(info scope.ScopeInfo) slog.Attr {
	return slog.Group("scope",
		slog.String("id", info.ID.String()),
		slog.String("name", info.Name),
		slog.String("policy", info.Policy.String()),
	)
}

func nodeAttrs(info scope.NodeInfo) slog.Attr {
	return slog.Group("node",
		slog.String("id", info.ID.String()),
		slog.String("name", info.Name),
		slog.String("parent", info.Parent.String()),
		slog.String("scope", info.Scope.String()),
		slog.String("dispatcher", info.Dispatcher.String()),
	)
}

func (o *Observer) ScopeCreated(info scope.ScopeInfo) {
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "scope created", scopeAttrs(info))
}

func (o *Observer) ScopeCancelled(info scope.ScopeInfo, cause error) {
	level := slog.LevelDebug
	if scope.IsFailure(cause) {
		level = slog.LevelWarn
	}
	o.log.LogAttrs(context.Background(), level, "scope cancelled", scopeAttrs(info), slog.Any("cause", cause))
}

func (o *Observer) ScopeJoined(info scope.ScopeInfo, wait time.Duration) {
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "scope joined", scopeAttrs(info), slog.Duration("wait", wait))
}

func (o *Observer) TaskStarted(info scope.NodeInfo) {
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "task started", nodeAttrs(info))
}

func (o *Observer) TaskFinished(info scope.NodeInfo, dur time.Duration, err error, panicked bool) {
	attrs := []slog.Attr{nodeAttrs(info), slog.Duration("duration", dur)}
	level := slog.LevelDebug
	switch {
	case panicked:
		level = slog.LevelWarn
		attrs = append(attrs, slog.Any("err", err), slog.Bool("panicked", true))
	case err != nil && !cancel.IsCancellation(err):
		level = slog.LevelWarn
		attrs = append(attrs, slog.Any("err", err))
	case err != nil:
		attrs = append(attrs, slog.String("result", "cancelled"))
	}
	o.log.LogAttrs(context.Background(), level, "task finished", attrs...)
}

func broadcasterAttr(info broadcast.Info) slog.Attr {
	return slog.Group("broadcaster", slog.String("name", info.Name), slog.String("policy", info.Policy.String()))
}

func (o *Observer) Subscribed(info broadcast.Info, n int) {
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "subscribed", broadcasterAttr(info), slog.Int("subscribers", n))
}

func (o *Observer) Unsubscribed(info broadcast.Info, n int) {
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "unsubscribed", broadcasterAttr(info), slog.Int("subscribers", n))
}

// Emitted is not logged; emissions are too frequent to be useful here.
func (o *Observer) Emitted(broadcast.Info) {}

func (o *Observer) Superseded(info broadcast.Info) {
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "delivery superseded", broadcasterAttr(info))
}

func (o *Observer) ProducerChanged(info broadcast.Info, st broadcast.ProducerState, err error) {
	level := slog.LevelInfo
	attrs := []slog.Attr{broadcasterAttr(info), slog.String("state", st.String())}
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.Any("err", err))
	}
	o.log.LogAttrs(context.Background(), level, "producer state changed", attrs...)
}
