package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Load", func() {
	When("loading from a valid file", func() {
		It("overrides defaults with file values", func() {
			content := `
server:
  host: "0.0.0.0"
  port: 9090
mode: production
ratelimit:
  window: 45s
  max_requests: 90
log:
  level: "warn"
  format: "text"
`
			path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
			Expect(os.WriteFile(path, []byte(content), 0644)).NotTo(HaveOccurred())

			cfg, err := Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.Host).To(Equal("0.0.0.0"))
			Expect(cfg.Server.Port).To(Equal(9090))
			Expect(cfg.Mode).To(Equal("production"))
			Expect(cfg.RateLimit.Window).To(Equal(45 * time.Second))
			Expect(cfg.RateLimit.MaxRequests).To(Equal(90))
			Expect(cfg.Log.Level).To(Equal("warn"))
		})
	})

	When("the file does not exist", func() {
		It("returns an error", func() {
			_, err := Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
			Expect(err).To(HaveOccurred())
		})
	})

	When("GANTRY_RATELIMIT_STORE selects sqlite", func() {
		It("overrides the store backend", func() {
			os.Setenv("GANTRY_RATELIMIT_STORE", "sqlite")
			os.Setenv("GANTRY_RATELIMIT_SQLITE_PATH", "/tmp/counters.db")
			defer os.Unsetenv("GANTRY_RATELIMIT_STORE")
			defer os.Unsetenv("GANTRY_RATELIMIT_SQLITE_PATH")

			cfg, err := Load("")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.RateLimit.Store).To(Equal("sqlite"))
			Expect(cfg.RateLimit.SQLitePath).To(Equal("/tmp/counters.db"))
		})
	})
})

var _ = Describe("Validation", func() {
	When("OTel is enabled but endpoint is empty", func() {
		It("returns an error", func() {
			cfg := Defaults()
			cfg.Observability.OTelEnabled = true
			cfg.Observability.OTelEndpoint = ""
			Expect(validate(cfg)).To(HaveOccurred())
		})
	})

	When("mode is unknown", func() {
		It("returns an error", func() {
			cfg := Defaults()
			cfg.Mode = "staging"
			Expect(validate(cfg)).To(HaveOccurred())
		})
	})
})
