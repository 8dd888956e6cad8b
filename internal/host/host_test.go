package host

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/mfhost/api/v1alpha1"
	"github.com/chazu/mfhost/internal/config"
	"github.com/chazu/mfhost/pkg/eventbus"
	"github.com/chazu/mfhost/pkg/federation"
	"github.com/chazu/mfhost/pkg/resolver"
)

var _ = Describe("Host", func() {
	var (
		ctx      context.Context
		remotes  *remoteServer
		registry *registryServer
		servers  []*httptest.Server
		cfg      *config.Config
		static   *resolver.ManifestSource

		eventsMu sync.Mutex
		events   []eventbus.Event
	)

	recorded := func(name string) []eventbus.Event {
		eventsMu.Lock()
		defer eventsMu.Unlock()
		var out []eventbus.Event
		for _, e := range events {
			if e.Name == name {
				out = append(out, e)
			}
		}
		return out
	}

	newHost := func() *Host {
		h, err := New(cfg, WithStaticSource(static))
		Expect(err).NotTo(HaveOccurred())
		for _, name := range []string{
			v1alpha1.EventConfigLoaded, v1alpha1.EventModuleLoaded, v1alpha1.EventModuleError,
			v1alpha1.EventAuthLogin, v1alpha1.EventUserLogin, v1alpha1.EventAuthLogout, v1alpha1.EventUserLogout,
		} {
			h.Bus().On(name, func(e eventbus.Event) {
				eventsMu.Lock()
				defer eventsMu.Unlock()
				events = append(events, e)
			})
		}
		return h
	}

	BeforeEach(func() {
		ctx = context.Background()
		events = nil

		remotes = &remoteServer{entries: map[string]string{
			"/auth/remoteEntry.go":    remoteEntry("authApp", "v1", "./Login", "./Profile"),
			"/booking/remoteEntry.go": remoteEntry("bookingApp", "v1", "./BookingList"),
		}}
		registry = &registryServer{}
		remoteSrv := httptest.NewServer(remotes)
		registrySrv := httptest.NewServer(registry)
		servers = []*httptest.Server{remoteSrv, registrySrv}

		cfg = testConfig(GinkgoT().TempDir())
		cfg.RegistryURL = registrySrv.URL + "/registry"

		static = &resolver.ManifestSource{Manifest: &v1alpha1.RegistryResponse{
			MicroFrontends: []v1alpha1.RegistryEntry{
				{Name: "auth", Scope: "authApp", URL: remoteSrv.URL + "/auth/remoteEntry.go", Module: "./Login"},
				{Name: "booking", Scope: "bookingApp", URL: remoteSrv.URL + "/booking/remoteEntry.go",
					Modules: []string{"./BookingList"}, Roles: []string{"admin"}},
			},
		}}
	})

	AfterEach(func() {
		for _, s := range servers {
			s.Close()
		}
	})

	Context("Starting", func() {
		It("Should seed the empty registry and publish the configuration", func() {
			h := newHost()
			Expect(h.Ready()).To(BeFalse())

			Expect(h.Start(ctx)).To(Succeed())

			Expect(registry.scopes()).To(ConsistOf("authApp", "bookingApp"))
			Expect(h.Ready()).To(BeTrue())
			Expect(h.Config().Scopes()).To(Equal([]string{"authApp", "bookingApp"}))
			Expect(h.Config().UpdatedAt).To(Equal("2026-10-18T09:00:00Z"))

			loaded := recorded(v1alpha1.EventConfigLoaded)
			Expect(loaded).To(HaveLen(1))
			payload, ok := loaded[0].Payload.(v1alpha1.ConfigLoadedPayload)
			Expect(ok).To(BeTrue())
			Expect(payload.Config.Scopes()).To(Equal([]string{"authApp", "bookingApp"}))
		})

		It("Should fall back to the static manifest when the registry is disabled", func() {
			cfg.RegistryURL = ""
			cfg.Environment = config.EnvironmentProduction
			h := newHost()

			Expect(h.Start(ctx)).To(Succeed())
			Expect(registry.scopes()).To(BeEmpty())
			Expect(h.References()).To(HaveLen(2))
		})
	})

	Context("Mounting", func() {
		var h *Host

		BeforeEach(func() {
			h = newHost()
		})

		It("Should refuse to mount before the configuration is loaded", func() {
			_, err := h.Mount(ctx, "authApp", "./Login")
			Expect(err).To(MatchError(ErrNotStarted))
		})

		It("Should link the remote entry and cache the export", func() {
			Expect(h.Start(ctx)).To(Succeed())

			export, err := h.Mount(ctx, "authApp", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(export.Value).To(Equal("authApp:./Login:v1"))

			again, err := h.Mount(ctx, "authApp", "./Login")
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(BeIdenticalTo(export))

			Expect(recorded(v1alpha1.EventModuleLoaded)).To(HaveLen(1))
			Expect(recorded(v1alpha1.EventModuleLoaded)[0].Payload).To(Equal(v1alpha1.ModuleLoadedPayload{Key: "authApp/./Login"}))
			Expect(h.Stats().LoadedModules).To(Equal([]string{"authApp/./Login"}))
		})

		It("Should report unknown scopes and unexposed modules", func() {
			Expect(h.Start(ctx)).To(Succeed())

			_, err := h.Mount(ctx, "reportingApp", "")
			Expect(err).To(MatchError(ErrUnknownScope))

			_, err = h.Mount(ctx, "authApp", "./Admin")
			Expect(err).To(MatchError(federation.ErrExportNotFound))
			Expect(recorded(v1alpha1.EventModuleError)).To(HaveLen(1))
		})

		It("Should enforce entry roles for the current user", func() {
			Expect(h.Start(ctx)).To(Succeed())

			h.Login(v1alpha1.User{ID: "1", Username: "jane", Role: v1alpha1.UserRoleUser})
			_, err := h.Mount(ctx, "bookingApp", "")
			Expect(err).To(MatchError(ErrForbidden))

			h.Login(v1alpha1.User{ID: "2", Username: "root", Role: v1alpha1.UserRoleAdmin})
			export, err := h.Mount(ctx, "bookingApp", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(export.Value).To(Equal("bookingApp:./BookingList:v1"))
		})

		It("Should fetch the remote again after invalidation", func() {
			Expect(h.Start(ctx)).To(Succeed())

			_, err := h.Mount(ctx, "authApp", "./Profile")
			Expect(err).NotTo(HaveOccurred())

			remotes.set("/auth/remoteEntry.go", remoteEntry("authApp", "v2", "./Login", "./Profile"))
			Expect(h.Invalidate("authApp")).To(Equal(1))

			export, err := h.Mount(ctx, "authApp", "./Profile")
			Expect(err).NotTo(HaveOccurred())
			Expect(export.Value).To(Equal("authApp:./Profile:v2"))
		})

		It("Should classify remote health", func() {
			Expect(h.Start(ctx)).To(Succeed())

			report := h.HealthCheck(ctx)
			Expect(report.Healthy).To(Equal([]string{"auth", "booking"}))
			Expect(report.Unhealthy).To(BeEmpty())
		})
	})

	Context("References", func() {
		It("Should fall back to ./index for entries without export paths", func() {
			remotes.set("/legacy/remoteEntry.go", remoteEntry("legacyApp", "v1", DefaultModule))
			static.Manifest.MicroFrontends = append(static.Manifest.MicroFrontends,
				v1alpha1.RegistryEntry{Scope: "legacyApp", URL: servers[0].URL + "/legacy/remoteEntry.go"})
			h := newHost()
			Expect(h.Start(ctx)).To(Succeed())
			Expect(h.Config().Scopes()).To(ContainElement("legacyApp"))

			ref, err := h.Reference("legacyApp", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(ref.Module).To(Equal(DefaultModule))
			Expect(ref.Name).To(Equal("legacyApp"))

			export, err := h.Mount(ctx, "legacyApp", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(export.Value).To(Equal("legacyApp:./index:v1"))
		})
	})

	Context("Authentication", func() {
		It("Should announce login and logout on both event names", func() {
			h := newHost()
			user := v1alpha1.User{ID: "1", Username: "jane", Email: "jane@example.com", Role: v1alpha1.UserRoleUser}

			h.Login(user)
			Expect(h.User()).To(Equal(&user))
			Expect(recorded(v1alpha1.EventAuthLogin)).To(HaveLen(1))
			Expect(recorded(v1alpha1.EventUserLogin)[0].Payload).To(Equal(v1alpha1.AuthLoginPayload{User: user}))

			h.Logout()
			Expect(h.User()).To(BeNil())
			Expect(recorded(v1alpha1.EventAuthLogout)).To(HaveLen(1))
			Expect(recorded(v1alpha1.EventUserLogout)[0].Payload).To(BeNil())
		})
	})

	Context("Watching the static manifest", func() {
		It("Should reload when the file changes", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "config.json")
			Expect(os.WriteFile(path, []byte(`{"microFrontends": [{"scope": "authApp", "url": "http://a/remoteEntry.go", "module": "./Login"}]}`), 0o644)).To(Succeed())

			cfg.RegistryURL = ""
			cfg.Environment = config.EnvironmentProduction
			cfg.StaticManifest = path
			h, err := New(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.Start(ctx)).To(Succeed())
			Expect(h.Config().Scopes()).To(Equal([]string{"authApp"}))

			watchCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- h.WatchStatic(watchCtx, path) }()
			DeferCleanup(func() {
				cancel()
				Eventually(done).Should(Receive(BeNil()))
			})

			Eventually(func() []string {
				_ = os.WriteFile(path, []byte(`{"microFrontends": [
					{"scope": "authApp", "url": "http://a/remoteEntry.go", "module": "./Login"},
					{"scope": "reportingApp", "url": "http://r/remoteEntry.go", "module": "./Dashboard"}]}`), 0o644)
				return h.Config().Scopes()
			}, "5s", "250ms").Should(Equal([]string{"authApp", "reportingApp"}))
		})
	})
})
