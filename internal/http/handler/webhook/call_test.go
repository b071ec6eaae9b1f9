package webhook_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"callrelay.app/relay/internal/http/handler/webhook"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/normalizer"
	"callrelay.app/relay/internal/service"
	"callrelay.app/relay/internal/signature"
)

var _ = Describe("CallWebhookHandler", func() {
	var (
		router *gin.Engine
		svc    *mockCallIngestService
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		svc = &mockCallIngestService{}
		h := webhook.NewCallWebhookHandler(svc)
		router.POST("/webhooks/retell", h.For(model.ProviderRetell))
		router.POST("/webhooks/vapi", h.For(model.ProviderVapi))
	})

	send := func(path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(signature.RetellHeader, "v=1,d=abc")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("passes the raw body, headers and provider to the service", func() {
		var (
			gotProvider model.Provider
			gotBody     []byte
			gotHeader   string
		)
		svc.ingestFn = func(_ context.Context, p model.Provider, body []byte, h http.Header) (*service.IngestResult, error) {
			gotProvider, gotBody, gotHeader = p, body, h.Get(signature.RetellHeader)
			return &service.IngestResult{Created: true}, nil
		}

		raw := []byte(`{"event":"call_started",  "call":{"call_id":"c1"}}`)
		w := send("/webhooks/retell", raw)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(MatchJSON(`{"received":true}`))
		Expect(gotProvider).To(Equal(model.ProviderRetell))
		Expect(gotBody).To(Equal(raw))
		Expect(gotHeader).To(Equal("v=1,d=abc"))
	})

	It("routes vapi deliveries to the vapi provider", func() {
		var got model.Provider
		svc.ingestFn = func(_ context.Context, p model.Provider, _ []byte, _ http.Header) (*service.IngestResult, error) {
			got = p
			return &service.IngestResult{}, nil
		}
		Expect(send("/webhooks/vapi", []byte(`{}`)).Code).To(Equal(http.StatusOK))
		Expect(got).To(Equal(model.ProviderVapi))
	})

	It("answers 401 only for signature failures", func() {
		svc.ingestFn = func(context.Context, model.Provider, []byte, http.Header) (*service.IngestResult, error) {
			return nil, fmt.Errorf("%w: no signing secret", signature.ErrInvalid)
		}
		w := send("/webhooks/retell", []byte(`{}`))
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	DescribeTable("acknowledges every other outcome",
		func(result *service.IngestResult, err error, want string) {
			svc.ingestFn = func(context.Context, model.Provider, []byte, http.Header) (*service.IngestResult, error) {
				return result, err
			}
			w := send("/webhooks/retell", []byte(`{}`))
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(want))
		},
		Entry("unknown agent", nil, fmt.Errorf("%w: agent_x", service.ErrUnknownAgent), `{"received":true}`),
		Entry("unsupported event", nil, normalizer.ErrUnsupportedEvent, `{"received":true}`),
		Entry("malformed payload", nil, fmt.Errorf("retell: %w", normalizer.ErrMalformed), `{"received":true,"warning":"malformed payload"}`),
		Entry("partial record", &service.IngestResult{Warning: "stored partial call record"}, nil,
			`{"received":true,"warning":"stored partial call record"}`),
		Entry("nothing stored", &service.IngestResult{Warning: "call not stored"}, service.ErrPersistence,
			`{"received":true,"warning":"call not stored"}`),
		Entry("unexpected error", nil, errors.New("db down"), `{"received":true,"warning":"processing error"}`),
	)

	It("acknowledges bodies over the size limit without processing them", func() {
		called := false
		svc.ingestFn = func(context.Context, model.Provider, []byte, http.Header) (*service.IngestResult, error) {
			called = true
			return nil, nil
		}
		w := send("/webhooks/retell", bytes.Repeat([]byte("a"), webhook.MaxBodyBytes+1))
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(called).To(BeFalse())
	})
})
