package federation

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sourcegraph/conc/pool"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/mfhost/api/v1alpha1"
	"github.com/chazu/mfhost/pkg/metrics"
)

// maxConcurrentPings bounds parallel health checks
const maxConcurrentPings = 16

// Pinger checks that a remote entry location is reachable
type Pinger interface {
	Ping(ctx context.Context, url string) error
}

// PingerFunc adapts a function to Pinger
type PingerFunc func(ctx context.Context, url string) error

// Ping calls f
func (f PingerFunc) Ping(ctx context.Context, url string) error {
	return f(ctx, url)
}

// httpPinger treats any HTTP response as reachable
type httpPinger struct {
	client *http.Client
}

func (p *httpPinger) Ping(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// UnhealthyModule names a remote that could not be reached
type UnhealthyModule struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// HealthReport classifies remotes by reachability
type HealthReport struct {
	Healthy   []string          `json:"healthy"`
	Unhealthy []UnhealthyModule `json:"unhealthy"`
}

// HealthCheck pings every ref in parallel. Failures are reported, never
// returned. Results keep the order of refs.
func (l *Loader) HealthCheck(ctx context.Context, refs []v1alpha1.ModuleReference) HealthReport {
	logger := logf.FromContext(ctx).WithName("health")

	results := make([]error, len(refs))
	p := pool.New().WithMaxGoroutines(maxConcurrentPings)
	for i, ref := range refs {
		p.Go(func() {
			results[i] = l.pinger.Ping(ctx, ref.URL)
		})
	}
	p.Wait()

	report := HealthReport{Healthy: []string{}, Unhealthy: []UnhealthyModule{}}
	for i, ref := range refs {
		name := ref.Name
		if name == "" {
			name = KeyFor(ref).String()
		}
		if err := results[i]; err != nil {
			metrics.RecordHealthCheck("unhealthy")
			logger.V(1).Info("Remote unreachable", "name", name, "url", ref.URL, "error", err.Error())
			report.Unhealthy = append(report.Unhealthy, UnhealthyModule{Name: name, Error: err.Error()})
			continue
		}
		metrics.RecordHealthCheck("healthy")
		report.Healthy = append(report.Healthy, name)
	}
	return report
}
