package controller

import (
	"context"
	"time"
)

// EndpointStatus is the health of one endpoint
type EndpointStatus struct {
	Address string `json:"address" yaml:"address"`
	Alive   bool   `json:"alive" yaml:"alive"`
}

// Status describes one controlled process as seen right now
type Status struct {
	ID        string           `json:"id" yaml:"id"`
	Tracked   bool             `json:"tracked" yaml:"tracked"`
	Pid       int              `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartedAt time.Time        `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	Alive     bool             `json:"alive" yaml:"alive"`
	Endpoints []EndpointStatus `json:"endpoints" yaml:"endpoints"`
}

// Status checks every endpoint and reports what the registry tracks
func (c *Controller) Status(ctx context.Context) Status {
	st := Status{ID: string(c.id), Alive: len(c.launch.Endpoints) > 0}

	if h, ok := c.registry.Get(c.id); ok && h.Alive() {
		st.Tracked = true
		st.Pid = h.Pid()
		st.StartedAt = h.StartedAt()
	}

	for _, ep := range c.launch.Endpoints {
		alive := c.health.Alive(ctx, ep)
		st.Endpoints = append(st.Endpoints, EndpointStatus{Address: ep.Address(), Alive: alive})
		st.Alive = st.Alive && alive
	}
	return st
}
