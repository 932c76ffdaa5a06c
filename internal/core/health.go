package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds the whole health check, all probes included.
const healthCheckTimeout = 2 * time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseProbe reports the database as healthy when a ping succeeds.
type DatabaseProbe struct {
	DB Pinger
}

// Name implements HealthProbe.
func (p DatabaseProbe) Name() string { return "database" }

// Check implements HealthProbe.
func (p DatabaseProbe) Check(ctx context.Context) error {
	if err := p.DB.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// componentStatus represents the health state of a single subsystem.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse is the JSON response body for the health check endpoint.
type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently under healthCheckTimeout and
// answers 200 when all pass, 503 otherwise. A probe that has not finished by
// the deadline counts as unhealthy.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Version: s.version()})
		return
	}

	type probeResult struct {
		name string
		err  error
	}

	// Buffered so late probes never block after the handler has returned.
	results := make(chan probeResult, len(probes))
	var wg sync.WaitGroup
	for _, probe := range probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			var err error
			func() {
				defer func() {
					if rvr := recover(); rvr != nil {
						err = fmt.Errorf("probe panicked: %v", rvr)
					}
				}()
				err = p.Check(ctx)
			}()
			results <- probeResult{name: p.Name(), err: err}
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	components := make(map[string]componentStatus, len(probes))
	for _, p := range probes {
		components[p.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
	}

	collect := func(res probeResult) {
		if res.err != nil {
			components[res.name] = componentStatus{Status: "unhealthy", Message: res.err.Error()}
		} else {
			components[res.name] = componentStatus{Status: "healthy"}
		}
	}

wait:
	for {
		select {
		case res := <-results:
			collect(res)
		case <-done:
			for {
				select {
				case res := <-results:
					collect(res)
				default:
					break wait
				}
			}
		case <-ctx.Done():
			break wait
		}
	}

	resp := healthResponse{Status: "healthy", Version: s.version(), Components: components}
	status := http.StatusOK
	for _, c := range components {
		if c.Status != "healthy" {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			break
		}
	}
	JSON(w, r, status, resp)
}

func (s *Server) version() string {
	if s.Config == nil {
		return ""
	}
	return s.Config.Build.Version
}
