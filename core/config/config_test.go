package config_test

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"callrelay.app/relay/core/config"
)

var _ = Describe("Load", func() {
	keys := []string{"RELAY_ENV", "ADMIN_API_KEY", "OUTBOUND_TIMEOUT", "TRANSCRIPT_CAP", "ACTION_MAX_RETRIES", "ACTION_BASE_BACKOFF"}
	saved := map[string]*string{}

	BeforeEach(func() {
		for _, k := range keys {
			if v, ok := os.LookupEnv(k); ok {
				saved[k] = &v
			} else {
				saved[k] = nil
			}
			Expect(os.Unsetenv(k)).To(Succeed())
		}
		// Skip .env loading in tests.
		Expect(os.Setenv("RELAY_ENV", "test")).To(Succeed())
	})

	AfterEach(func() {
		for k, v := range saved {
			if v == nil {
				_ = os.Unsetenv(k)
			} else {
				_ = os.Setenv(k, *v)
			}
		}
	})

	It("uses the pipeline defaults", func() {
		cfg, err := config.Load(config.ServiceTypeServer)
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Automation.OutboundTimeout).To(Equal(15 * time.Second))
		Expect(cfg.Automation.TranscriptCap).To(Equal(500000))
		Expect(cfg.Automation.MaxRetries).To(Equal(2))
		Expect(cfg.Automation.BaseBackoff).To(Equal(time.Second))
	})

	It("reads overrides from the environment", func() {
		Expect(os.Setenv("OUTBOUND_TIMEOUT", "5s")).To(Succeed())
		Expect(os.Setenv("ACTION_MAX_RETRIES", "4")).To(Succeed())

		cfg, err := config.Load(config.ServiceTypeServer)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Automation.OutboundTimeout).To(Equal(5 * time.Second))
		Expect(cfg.Automation.MaxRetries).To(Equal(4))
	})

	It("requires an admin key in production", func() {
		Expect(os.Setenv("RELAY_ENV", "production")).To(Succeed())

		_, err := config.Load(config.ServiceTypeServer)
		Expect(err).To(MatchError(ContainSubstring("ADMIN_API_KEY")))
	})

	It("rejects a non-positive transcript cap", func() {
		Expect(os.Setenv("TRANSCRIPT_CAP", "0")).To(Succeed())

		_, err := config.Load(config.ServiceTypeServer)
		Expect(err).To(HaveOccurred())
	})
})
