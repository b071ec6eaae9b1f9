package action_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"callrelay.app/relay/internal/action"
	"callrelay.app/relay/internal/credential"
	"callrelay.app/relay/internal/model"
)

type capturedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// recorder is an httptest server that records requests and answers from a per-path table.
type recorder struct {
	*httptest.Server

	mu       sync.Mutex
	requests []capturedRequest
	replies  map[string]reply
}

type reply struct {
	status int
	body   string
}

func newRecorder(replies map[string]reply) *recorder {
	rec := &recorder{replies: replies}
	rec.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.requests = append(rec.requests, capturedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		rp, ok := rec.replies[r.Method+" "+r.URL.Path]
		rec.mu.Unlock()
		if !ok {
			rp = reply{status: http.StatusOK, body: `{}`}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rp.status)
		_, _ = io.WriteString(w, rp.body)
	}))
	return rec
}

func (r *recorder) captured() []capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]capturedRequest(nil), r.requests...)
}

func testCall() *model.Call {
	return &model.Call{
		ExternalID:      "call_42",
		Provider:        model.ProviderRetell,
		Status:          model.CallStatusCompleted,
		Direction:       model.DirectionInbound,
		FromNumber:      "+15551230000",
		ToNumber:        "+15559870000",
		DurationSeconds: ptr(125),
		Summary:         ptr("Wants a quote"),
		Sentiment:       ptr("positive"),
	}
}

var _ = Describe("built-in handlers", func() {
	var (
		rec  *recorder
		deps action.Deps
		disp *action.Dispatcher
	)

	setup := func(replies map[string]reply) {
		rec = newRecorder(replies)
		DeferCleanup(rec.Close)
		target, _ := url.Parse(rec.URL)
		deps = action.Deps{
			HTTPClient:    rec.Client(),
			WebhookClient: &http.Client{Transport: redirectTransport{target: target}},
			URLPolicy:     action.URLPolicy{Resolver: fakeResolver{"hooks.example.com": {"93.184.216.34"}}},
			Endpoints: action.Endpoints{
				GoHighLevel:    rec.URL,
				HubSpot:        rec.URL,
				GoogleCalendar: rec.URL,
				Calendly:       rec.URL,
				Twilio:         rec.URL,
				Resend:         rec.URL,
			},
		}
		disp = action.NewDispatcher(action.NewDefaultRegistry(deps))
	}

	run := func(actionType, cfg string, creds *credential.Set) action.Result {
		spec := model.ActionSpec{Type: actionType, Config: json.RawMessage(cfg)}
		return disp.Execute(context.Background(), action.NewRequest(spec, testCall(), "Front Desk", creds))
	}

	Describe("webhook", func() {
		It("posts the call payload with sanitized headers", func() {
			setup(nil)

			res := run("webhook", `{"url":"https://hooks.example.com/calls/{{call_id}}","headers":{"X-Token":"{{call_id}}","Authorization":"Bearer x"}}`, nil)

			Expect(res.Error).NotTo(HaveOccurred())
			Expect(res.Success).To(BeTrue())
			reqs := rec.captured()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Method).To(Equal(http.MethodPost))
			Expect(reqs[0].Path).To(Equal("/calls/call_42"))
			Expect(reqs[0].Header.Get("X-Token")).To(Equal("call_42"))
			Expect(reqs[0].Header.Get("Authorization")).To(BeEmpty())
			Expect(reqs[0].Header.Get(action.DeliveryHeader)).To(Equal(res.Output["delivery_id"]))

			var payload action.CallPayloadBody
			Expect(json.Unmarshal(reqs[0].Body, &payload)).To(Succeed())
			Expect(payload.CallID).To(Equal("call_42"))
			Expect(payload.AgentName).To(Equal("Front Desk"))
			Expect(payload.Status).To(Equal("completed"))
		})

		It("sends a rendered custom body", func() {
			setup(nil)

			res := run("webhook", `{"url":"https://hooks.example.com/x","method":"put","body":"{\"summary\":\"{{summary}}\"}"}`, nil)

			Expect(res.Success).To(BeTrue())
			reqs := rec.captured()
			Expect(reqs[0].Method).To(Equal(http.MethodPut))
			Expect(string(reqs[0].Body)).To(Equal(`{"summary":"Wants a quote"}`))
		})

		It("classifies a 503 as retryable", func() {
			setup(map[string]reply{"POST /x": {status: http.StatusServiceUnavailable, body: "down"}})

			res := run("webhook", `{"url":"https://hooks.example.com/x"}`, nil)

			Expect(res.Success).To(BeFalse())
			Expect(action.IsRetryable(res.Error)).To(BeTrue())
		})

		It("classifies a 400 as terminal", func() {
			setup(map[string]reply{"POST /x": {status: http.StatusBadRequest}})

			res := run("webhook", `{"url":"https://hooks.example.com/x"}`, nil)

			Expect(action.KindOf(res.Error)).To(Equal(action.KindNonRetryableClient))
		})

		It("never dials a rendered private target", func() {
			setup(nil)

			res := run("webhook", `{"url":"https://127.0.0.1/{{call_id}}"}`, nil)

			Expect(action.KindOf(res.Error)).To(Equal(action.KindSSRFRejected))
			Expect(rec.captured()).To(BeEmpty())
		})
	})

	Describe("send_slack", func() {
		It("uses the integration's incoming webhook", func() {
			setup(nil)
			creds := credential.NewStaticSet(credential.Credential{
				Provider: model.ProviderSlack,
				Settings: map[string]string{model.SettingWebhookURL: rec.URL + "/services/T/B"},
			})

			res := run("send_slack", `{"message":"{{agent_name}}: {{summary}}"}`, creds)

			Expect(res.Success).To(BeTrue())
			reqs := rec.captured()
			Expect(reqs[0].Path).To(Equal("/services/T/B"))
			Expect(string(reqs[0].Body)).To(MatchJSON(`{"text":"Front Desk: Wants a quote"}`))
		})

		It("fails with credential_missing when slack is not connected", func() {
			setup(nil)

			res := run("send_slack", `{"message":"hi"}`, credential.NewStaticSet())

			Expect(action.KindOf(res.Error)).To(Equal(action.KindCredentialMissing))
			Expect(action.IsRetryable(res.Error)).To(BeFalse())
		})
	})

	Describe("hubspot", func() {
		hubspot := credential.NewStaticSet(credential.Credential{Provider: model.ProviderHubSpot, AccessToken: "hs-token"})

		It("logs the call against the contact found by phone", func() {
			setup(map[string]reply{
				"POST /crm/v3/objects/contacts/search": {status: 200, body: `{"results":[{"id":"501","properties":{"phone":"+15551230000"}}]}`},
				"POST /crm/v3/objects/calls":           {status: 201, body: `{"id":"901"}`},
			})

			res := run("hubspot_log_call", `{}`, hubspot)

			Expect(res.Error).NotTo(HaveOccurred())
			Expect(res.Output).To(HaveKeyWithValue("contact_id", "501"))
			Expect(res.Output).To(HaveKeyWithValue("activity_id", "901"))

			reqs := rec.captured()
			Expect(reqs).To(HaveLen(2))
			Expect(reqs[1].Header.Get("Authorization")).To(Equal("Bearer hs-token"))
			var created struct {
				Properties map[string]string `json:"properties"`
			}
			Expect(json.Unmarshal(reqs[1].Body, &created)).To(Succeed())
			Expect(created.Properties).To(HaveKeyWithValue("hs_call_direction", "INBOUND"))
			Expect(created.Properties).To(HaveKeyWithValue("hs_call_duration", "125000"))
		})

		It("creates the contact when none matches", func() {
			setup(map[string]reply{
				"POST /crm/v3/objects/contacts/search": {status: 200, body: `{"results":[]}`},
				"POST /crm/v3/objects/contacts":        {status: 201, body: `{"id":"777"}`},
			})

			res := run("hubspot_upsert_contact", `{"first_name":"Ada","tags":["vip"]}`, hubspot)

			Expect(res.Output).To(HaveKeyWithValue("contact_id", "777"))
			var created struct {
				Properties map[string]string `json:"properties"`
			}
			Expect(json.Unmarshal(rec.captured()[1].Body, &created)).To(Succeed())
			Expect(created.Properties).To(Equal(map[string]string{
				"phone":          "+15551230000",
				"firstname":      "Ada",
				"callrelay_tags": "vip",
			}))
		})

		It("surfaces rate limiting as retryable", func() {
			setup(map[string]reply{
				"POST /crm/v3/objects/contacts/search": {status: http.StatusTooManyRequests, body: `{"message":"slow down"}`},
			})

			res := run("hubspot_add_note", `{"body":"x"}`, hubspot)

			Expect(action.IsRetryable(res.Error)).To(BeTrue())
		})
	})

	Describe("gohighlevel", func() {
		ghl := credential.NewStaticSet(credential.Credential{
			Provider: model.ProviderGoHighLevel,
			APIKey:   "ghl-key",
			Settings: map[string]string{model.SettingLocationID: "loc_1"},
		})

		It("upserts the contact with the configured email before triggering the workflow", func() {
			setup(map[string]reply{
				"POST /contacts/upsert":              {status: 200, body: `{"contact":{"id":"c_9"}}`},
				"POST /contacts/c_9/workflow/wf_77": {status: 200, body: `{}`},
			})

			res := run("gohighlevel_trigger_workflow", `{"workflow_id":"wf_77","email":"lead@example.com"}`, ghl)

			Expect(res.Error).NotTo(HaveOccurred())
			Expect(res.Output).To(HaveKeyWithValue("contact_id", "c_9"))
			Expect(res.Output).To(HaveKeyWithValue("workflow_id", "wf_77"))

			reqs := rec.captured()
			Expect(reqs).To(HaveLen(2))
			var upserted map[string]any
			Expect(json.Unmarshal(reqs[0].Body, &upserted)).To(Succeed())
			Expect(upserted).To(HaveKeyWithValue("email", "lead@example.com"))
			Expect(upserted).To(HaveKeyWithValue("phone", "+15551230000"))
			Expect(reqs[1].Path).To(Equal("/contacts/c_9/workflow/wf_77"))
		})
	})

	It("reports credential_missing for every provider-backed type without an integration", func() {
		setup(nil)
		for _, t := range []struct{ typ, cfg string }{
			{"gohighlevel_log_call", `{}`},
			{"hubspot_add_tags", `{"tags":["a"]}`},
			{"google_calendar_book_event", `{"start_time":"2026-05-04T10:00:00Z"}`},
			{"send_sms", `{"message":"hi"}`},
			{"send_email", `{"to":"a@example.com","subject":"s","body":"b"}`},
		} {
			res := run(t.typ, t.cfg, credential.NewStaticSet())
			Expect(action.KindOf(res.Error)).To(Equal(action.KindCredentialMissing), t.typ)
		}
		Expect(rec.captured()).To(BeEmpty())
	})
})
