package action_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"callrelay.app/relay/internal/action"
)

var _ = Describe("ValidateWebhookURL", func() {
	policy := action.URLPolicy{Resolver: fakeResolver{
		"hooks.example.com":  {"93.184.216.34"},
		"sneaky.example.com": {"93.184.216.34", "10.1.2.3"},
		"metadata.example":   {"169.254.169.254"},
	}}

	DescribeTable("rejects internal targets",
		func(raw string) {
			_, err := action.ValidateWebhookURL(context.Background(), raw, policy)
			Expect(action.KindOf(err)).To(Equal(action.KindSSRFRejected))
		},
		Entry("loopback v4", "https://127.0.0.1/hook"),
		Entry("loopback v6", "https://[::1]/hook"),
		Entry("private 10/8", "https://10.0.0.5/hook"),
		Entry("private 192.168/16", "https://192.168.1.1/hook"),
		Entry("private 172.16/12", "https://172.20.0.1/hook"),
		Entry("link local metadata", "https://169.254.169.254/latest/meta-data"),
		Entry("unspecified", "https://0.0.0.0/"),
		Entry("cgnat", "https://100.64.0.1/"),
		Entry("v4-mapped loopback", "https://[::ffff:127.0.0.1]/"),
		Entry("localhost", "https://localhost:8080/"),
		Entry("internal suffix", "https://db.internal/"),
		Entry("plain http", "http://hooks.example.com/"),
		Entry("file scheme", "file:///etc/passwd"),
		Entry("gopher scheme", "gopher://hooks.example.com/"),
		Entry("no host", "https:///path"),
		Entry("any resolved address private", "https://sneaky.example.com/"),
		Entry("resolves to link local", "https://metadata.example/"),
		Entry("resolves to nothing", "https://nowhere.example.com/"),
	)

	It("accepts a public https target", func() {
		u, err := action.ValidateWebhookURL(context.Background(), "https://hooks.example.com/x?y=1", policy)
		Expect(err).NotTo(HaveOccurred())
		Expect(u.Host).To(Equal("hooks.example.com"))
	})

	It("accepts plain http only when allowed", func() {
		dev := policy
		dev.AllowHTTP = true
		_, err := action.ValidateWebhookURL(context.Background(), "http://hooks.example.com/", dev)
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("CheckWebhookURL", func() {
	It("checks literal addresses without resolving names", func() {
		Expect(action.CheckWebhookURL("https://10.0.0.1/", true)).To(HaveOccurred())
		Expect(action.CheckWebhookURL("https://anything.example.org/", false)).To(Succeed())
	})
})

var _ = Describe("SanitizeHeaders", func() {
	It("drops denylisted and blank headers case-insensitively", func() {
		h := action.SanitizeHeaders(map[string]string{
			"authorization":   "Bearer stolen",
			"Cookie":          "a=b",
			"HOST":            "evil",
			"X-Forwarded-For": "1.2.3.4",
			" ":               "blank",
			"X-Custom":        "ok",
		})
		Expect(h).To(HaveLen(1))
		Expect(h.Get("X-Custom")).To(Equal("ok"))
	})
})

var _ = Describe("SafeTransport", func() {
	It("refuses to dial a non-public address and keeps the rejection terminal", func() {
		client := action.NewWebhookClient(time.Second)
		req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:9/hook", nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = client.Do(req)
		Expect(err).To(HaveOccurred())

		classified := action.TransportError(err)
		Expect(classified.Kind).To(Equal(action.KindSSRFRejected))
		Expect(classified.Retryable).To(BeFalse())
		Expect(action.IsRetryable(classified)).To(BeFalse())
	})
})

var _ = Describe("TransportError", func() {
	It("treats plain network failures as retryable", func() {
		Expect(action.TransportError(errors.New("connection reset by peer")).Retryable).To(BeTrue())
	})

	It("does not retry a cancelled request", func() {
		Expect(action.TransportError(context.Canceled).Retryable).To(BeFalse())
	})
})
