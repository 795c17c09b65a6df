package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/fleetsync/pkg/log"
)

// Server is a long-running component. Start blocks until ctx is done or the
// component fails.
type Server interface {
	Start(ctx context.Context) error
}

// StartFunc adapts a blocking func to Server.
type StartFunc func(ctx context.Context) error

func (f StartFunc) Start(ctx context.Context) error { return f(ctx) }

// Manager runs a set of servers and stops them all when one of them fails.
type Manager struct {
	servers map[string]Server
}

func NewManager() *Manager {
	return &Manager{servers: make(map[string]Server)}
}

// Add registers a server under name.
func (m *Manager) Add(name string, s Server) {
	m.servers[name] = s
}

// Start launches all servers in parallel and waits for termination.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for name, s := range m.servers {
		g.Go(func() error {
			log.Info("Starting component", "name", name)
			if err := s.Start(ctx); err != nil {
				log.Error(err, "Component exited with error", "name", name)
				return err
			}
			log.Info("Component stopped", "name", name)
			return nil
		})
	}

	return g.Wait()
}
