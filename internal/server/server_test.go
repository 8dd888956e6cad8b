package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/mfhost/api/v1alpha1"
	"github.com/chazu/mfhost/internal/host"
	"github.com/chazu/mfhost/pkg/federation"
)

type fakeHost struct {
	manifest    *v1alpha1.RegistryResponse
	reloads     int
	invalidated []string
	mountErr    error
	mountOpts   int
}

func (f *fakeHost) Ready() bool                        { return f.manifest != nil }
func (f *fakeHost) Config() *v1alpha1.RegistryResponse { return f.manifest }

func (f *fakeHost) Reload(context.Context) (*v1alpha1.RegistryResponse, error) {
	f.reloads++
	f.manifest = &v1alpha1.RegistryResponse{MicroFrontends: []v1alpha1.RegistryEntry{
		{Scope: "authApp", URL: "http://a/remoteEntry.go", Module: "./Login"},
	}}
	return f.manifest, nil
}

func (f *fakeHost) Stats() federation.Stats {
	return federation.Stats{Loaded: 1, LoadedModules: []string{"authApp/./Login"}}
}

func (f *fakeHost) HealthCheck(context.Context) federation.HealthReport {
	return federation.HealthReport{
		Healthy:   []string{"auth"},
		Unhealthy: []federation.UnhealthyModule{{Name: "booking", Error: "connection refused"}},
	}
}

func (f *fakeHost) Mount(_ context.Context, scope, module string, opts ...federation.LoadOption) (*federation.Export, error) {
	f.mountOpts = len(opts)
	if f.mountErr != nil {
		return nil, f.mountErr
	}
	return &federation.Export{
		Key:      federation.Key{Scope: scope, Module: module},
		URL:      "http://a/remoteEntry.go",
		LoadedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
		Attempts: 2,
	}, nil
}

func (f *fakeHost) Invalidate(scope string) int {
	f.invalidated = append(f.invalidated, scope)
	return 3
}

var _ = Describe("Server", func() {
	var (
		fake *fakeHost
		srv  *httptest.Server
	)

	do := func(method, path string) (*http.Response, string) {
		req, err := http.NewRequest(method, srv.URL+path, nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := srv.Client().Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = resp.Body.Close() }()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, string(body)
	}

	BeforeEach(func() {
		fake = &fakeHost{}
		srv = httptest.NewServer(New(":0", fake).Handler())
	})

	AfterEach(func() {
		srv.Close()
	})

	Context("Health endpoints", func() {
		It("Should report liveness", func() {
			resp, body := do(http.MethodGet, "/healthz")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(Equal("ok"))
		})

		It("Should report readiness once the configuration is loaded", func() {
			resp, _ := do(http.MethodGet, "/readyz")
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

			_, _ = fake.Reload(context.Background())
			resp, _ = do(http.MethodGet, "/readyz")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, _ = do(http.MethodGet, "/readyz/config")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("Should expose metrics", func() {
			resp, body := do(http.MethodGet, "/metrics")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring("mfhost_loader_cache_hits_total"))
		})
	})

	Context("Configuration", func() {
		It("Should be unavailable before the first load", func() {
			resp, body := do(http.MethodGet, "/api/config")
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(body).To(ContainSubstring(host.ErrNotStarted.Error()))
		})

		It("Should reload and serve the configuration", func() {
			resp, _ := do(http.MethodPost, "/api/config/reload")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(fake.reloads).To(Equal(1))

			resp, body := do(http.MethodGet, "/api/config")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var manifest v1alpha1.RegistryResponse
			Expect(json.Unmarshal([]byte(body), &manifest)).To(Succeed())
			Expect(manifest.Scopes()).To(Equal([]string{"authApp"}))
		})
	})

	Context("Modules", func() {
		It("Should serve stats and health", func() {
			_, body := do(http.MethodGet, "/api/stats")
			var stats federation.Stats
			Expect(json.Unmarshal([]byte(body), &stats)).To(Succeed())
			Expect(stats.LoadedModules).To(Equal([]string{"authApp/./Login"}))

			_, body = do(http.MethodGet, "/api/health")
			var report federation.HealthReport
			Expect(json.Unmarshal([]byte(body), &report)).To(Succeed())
			Expect(report.Healthy).To(Equal([]string{"auth"}))
			Expect(report.Unhealthy).To(HaveLen(1))
		})

		It("Should load a module", func() {
			resp, body := do(http.MethodPost, "/api/modules/authApp/load?module=./Login")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var export ExportResponse
			Expect(json.Unmarshal([]byte(body), &export)).To(Succeed())
			Expect(export.Key).To(Equal("authApp/./Login"))
			Expect(export.Attempts).To(Equal(2))
			Expect(fake.mountOpts).To(BeZero())
		})

		It("Should pass a per-request attempt count", func() {
			resp, _ := do(http.MethodPost, "/api/modules/authApp/load?attempts=1")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(fake.mountOpts).To(Equal(1))
		})

		DescribeTable("Should reject an invalid attempt count",
			func(raw string) {
				resp, body := do(http.MethodPost, "/api/modules/authApp/load?attempts="+raw)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(body).To(ContainSubstring("attempts must be a positive integer"))
			},
			Entry("zero", "0"),
			Entry("negative", "-2"),
			Entry("not a number", "many"),
		)

		DescribeTable("Should map load errors to status codes",
			func(err error, status int) {
				fake.mountErr = err
				resp, body := do(http.MethodPost, "/api/modules/authApp/load")
				Expect(resp.StatusCode).To(Equal(status))
				Expect(body).To(ContainSubstring(`"error"`))
			},
			Entry("unknown scope", fmt.Errorf("%w: x", host.ErrUnknownScope), http.StatusNotFound),
			Entry("forbidden", fmt.Errorf("%w user: x", host.ErrForbidden), http.StatusForbidden),
			Entry("not started", host.ErrNotStarted, http.StatusServiceUnavailable),
			Entry("export not found", &federation.LoadError{Attempts: 3, Err: federation.ErrExportNotFound}, http.StatusNotFound),
			Entry("exhausted", &federation.LoadError{Attempts: 3, Err: errors.New("boom")}, http.StatusBadGateway),
			Entry("timeout", context.DeadlineExceeded, http.StatusGatewayTimeout),
		)

		It("Should advertise when a cooling down module may be retried", func() {
			fake.mountErr = &federation.RecentFailureError{RetryAfter: 12 * time.Second}
			resp, _ := do(http.MethodPost, "/api/modules/authApp/load")
			Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
			Expect(resp.Header.Get("Retry-After")).To(Equal("12"))
		})

		It("Should invalidate a scope", func() {
			resp, body := do(http.MethodDelete, "/api/modules/authApp")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(fake.invalidated).To(Equal([]string{"authApp"}))
			Expect(strings.TrimSpace(body)).To(Equal(`{"scope":"authApp","removed":3}`))
		})
	})
})
