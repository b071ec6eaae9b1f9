package logger_test

import (
	"bytes"
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"callrelay.app/relay/common/logger"
)

var _ = Describe("TraceHandler", func() {
	var (
		buf *bytes.Buffer
		log *slog.Logger
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		log = slog.New(logger.NewTraceHandler(slog.NewJSONHandler(buf, nil)))
	})

	It("adds context fields to every record", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			CallID:         logger.Ptr(int64(42)),
			ExternalCallID: logger.Ptr("call_abc"),
			Provider:       logger.Ptr("retell"),
			Component:      "relay.test",
		})

		log.InfoContext(ctx, "hello")

		out := buf.String()
		Expect(out).To(ContainSubstring(`"call_id":42`))
		Expect(out).To(ContainSubstring(`"external_call_id":"call_abc"`))
		Expect(out).To(ContainSubstring(`"provider":"retell"`))
		Expect(out).To(ContainSubstring(`"component":"relay.test"`))
	})

	It("omits fields that were never set", func() {
		log.InfoContext(context.Background(), "bare")

		Expect(buf.String()).NotTo(ContainSubstring("call_id"))
		Expect(buf.String()).NotTo(ContainSubstring("component"))
	})
})

var _ = Describe("WithLogFields", func() {
	It("merges newer non-empty values over existing ones", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			WorkflowID: logger.Ptr(int64(1)),
			Component:  "relay.a",
		})
		ctx = logger.WithLogFields(ctx, logger.LogFields{
			ExecutionLogID: logger.Ptr(int64(9)),
		})

		fields := logger.GetLogFields(ctx)
		Expect(*fields.WorkflowID).To(Equal(int64(1)))
		Expect(*fields.ExecutionLogID).To(Equal(int64(9)))
		Expect(fields.Component).To(Equal("relay.a"))
	})
})

var _ = Describe("Truncate", func() {
	It("leaves short strings untouched", func() {
		Expect(logger.Truncate("abc", 5)).To(Equal("abc"))
	})

	It("cuts long strings and marks them", func() {
		Expect(logger.Truncate("abcdef", 3)).To(Equal("abc..."))
	})
})
