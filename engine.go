// Package bymy wires the Discovery Engine, Message Router, and
// front-end IPC into a single runnable peer process, the in-process
// equivalent of the teacher's Gyre type (gyre.go) binding node.go and
// beacon.go behind one handle. main in each cmd/ entry point owns
// signal handling and calls Shutdown; the library itself stays
// signal-agnostic, as idiomatic Go code should.
package bymy

import (
	"context"

	"go.uber.org/zap"

	"github.com/yusufCakir61/BYMY/config"
	"github.com/yusufCakir61/BYMY/discovery"
	"github.com/yusufCakir61/BYMY/ipc"
	"github.com/yusufCakir61/BYMY/router"
)

// Engine is one peer process's full core: the Message Router (T1), the
// front-end IPC endpoint it drains (T2), and, when embedded rather than
// run as a standalone process, the Discovery Engine (T4).
type Engine struct {
	Router    *router.Router
	discovery *discovery.Engine
	log       *zap.SugaredLogger
	fatalCh   chan error
	doneCh    chan struct{}
}

// Start builds every component from cfg and launches their background
// loops. embedDiscovery selects whether this process also runs the
// Discovery Engine on cfg.WhoisPort (spec.md §9 design note: either a
// single process or a split process/task layout is acceptable).
func Start(cfg *config.Config, endpoint ipc.Endpoint, embedDiscovery bool, log *zap.SugaredLogger) (*Engine, error) {
	rt, err := router.New(cfg, endpoint, log)
	if err != nil {
		return nil, err
	}

	eng := &Engine{Router: rt, log: log, fatalCh: make(chan error, 1), doneCh: make(chan struct{})}

	if embedDiscovery {
		disc, err := discovery.New(cfg.WhoisPort, log)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		disc.Start()
		eng.discovery = disc
	}

	rt.Start()
	go eng.forwardFatal()
	return eng, nil
}

// forwardFatal relays the first TransportFatal from either the Router or
// an embedded Discovery Engine onto Fatal(), so a cmd/ entry point can
// select on one channel and exit the process per spec.md §7.
func (e *Engine) forwardFatal() {
	var discFatal <-chan error
	if e.discovery != nil {
		discFatal = e.discovery.Fatal()
	}
	select {
	case err := <-e.Router.Fatal():
		e.fatalCh <- err
	case err, ok := <-discFatal:
		if ok {
			e.fatalCh <- err
		}
	case <-e.doneCh:
	}
}

// Fatal reports the first TransportFatal error from the Router or an
// embedded Discovery Engine. A cmd/ entry point should select on this
// alongside its signal channel and exit the process.
func (e *Engine) Fatal() <-chan error { return e.fatalCh }

// Shutdown runs the graceful-shutdown sequence from spec.md §5: it closes
// the embedded Discovery Engine, if any, then closes the Router, which
// sends LEAVE, closes the front-end endpoint and releases the peer socket.
// It does not wait for queued notifications to be read.
func (e *Engine) Shutdown(_ context.Context) error {
	defer close(e.doneCh)
	if e.discovery != nil {
		if err := e.discovery.Close(); err != nil {
			e.log.Warnw("discovery engine close failed", "error", err)
		}
	}
	return e.Router.Close()
}
