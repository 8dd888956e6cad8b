package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/mfhost/pkg/resolver"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

var _ = Describe("Config", func() {
	Context("Defaults", func() {
		It("Should use the development registry and embedded manifest", func() {
			cfg := Defaults()
			Expect(cfg.Validate()).To(Succeed())
			Expect(cfg.Development()).To(BeTrue())
			Expect(cfg.ResolvedRegistryURL()).To(Equal(resolver.DevelopmentRegistryURL))
			Expect(cfg.StaticManifest).To(Equal(resolver.DefaultStaticRef))
			Expect(cfg.Seed()).To(BeTrue())
			Expect(cfg.Loader.Cooldown.Duration).To(Equal(30 * time.Second))
		})
	})

	Context("Environment", func() {
		It("Should disable the registry in production without an explicit URL", func() {
			cfg := Defaults()
			cfg.ApplyEnv(env(map[string]string{EnvEnvironment: "PRODUCTION"}))

			Expect(cfg.Development()).To(BeFalse())
			Expect(cfg.ResolvedRegistryURL()).To(BeEmpty())
		})

		It("Should prefer an explicit registry URL", func() {
			cfg := Defaults()
			cfg.ApplyEnv(env(map[string]string{
				EnvEnvironment: "production",
				EnvRegistryURL: "https://registry.example.com/api",
			}))

			Expect(cfg.ResolvedRegistryURL()).To(Equal("https://registry.example.com/api"))
			Expect(cfg.RegistryEnabled()).To(BeTrue())
		})

		It("Should accept a registry URL from the environment that is not http(s)", func() {
			cfg := Defaults()
			cfg.ApplyEnv(env(map[string]string{EnvRegistryURL: "ftp://registry.example.com"}))

			Expect(cfg.Validate()).To(Succeed())
			Expect(cfg.RegistryEnabled()).To(BeFalse())
		})

		It("Should override the static manifest and namespace", func() {
			cfg := Defaults()
			cfg.ApplyEnv(env(map[string]string{
				EnvStaticManifest: "configmap://web/host-config",
				EnvNamespace:      "web",
			}))

			Expect(cfg.StaticManifest).To(Equal("configmap://web/host-config"))
			Expect(cfg.Namespace).To(Equal("web"))
		})
	})

	Context("Load", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		It("Should read YAML over the defaults", func() {
			path := filepath.Join(dir, "mfhost.yaml")
			Expect(os.WriteFile(path, []byte(`
registryURL: http://registry.internal:4000/registry
environment: production
staticManifest: ./config.json
loader:
  maxRetries: 5
  retryDelay: 250ms
`), 0o644)).To(Succeed())

			cfg, err := Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.RegistryURL).To(Equal("http://registry.internal:4000/registry"))
			Expect(cfg.Development()).To(BeFalse())
			Expect(cfg.StaticManifest).To(Equal("./config.json"))
			Expect(cfg.Loader.MaxRetries).To(Equal(5))
			Expect(cfg.Loader.RetryDelay.Duration).To(Equal(250 * time.Millisecond))
			Expect(cfg.Loader.Cooldown.Duration).To(Equal(30 * time.Second))
		})

		It("Should reject unknown fields", func() {
			path := filepath.Join(dir, "mfhost.yaml")
			Expect(os.WriteFile(path, []byte("registryURL: http://x\nregistryEndpoint: http://y\n"), 0o644)).To(Succeed())

			_, err := Load(path)
			Expect(err).To(MatchError(ContainSubstring("failed to parse config file")))
		})

		It("Should report every invalid field", func() {
			path := filepath.Join(dir, "mfhost.yaml")
			Expect(os.WriteFile(path, []byte(`
environment: staging
loader:
  maxRetries: 0
`), 0o644)).To(Succeed())

			_, err := Load(path)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("environment must be"))
			Expect(err.Error()).To(ContainSubstring("loader.maxRetries must be at least 1"))
		})

		It("Should disable the registry for a URL that is not http(s)", func() {
			path := filepath.Join(dir, "mfhost.yaml")
			Expect(os.WriteFile(path, []byte("registryURL: ftp://registry.example.com\n"), 0o644)).To(Succeed())

			cfg, err := Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.RegistryURL).To(Equal("ftp://registry.example.com"))
			Expect(cfg.RegistryEnabled()).To(BeFalse())
		})

		It("Should fail on a missing file", func() {
			_, err := Load(filepath.Join(dir, "missing.yaml"))
			Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
		})
	})
})
