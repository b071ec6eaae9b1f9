package action

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"time"

	"callrelay.app/relay/internal/model"
)

const (
	TypeGoogleBookEvent         = "google_calendar_book_event"
	TypeGoogleCancelEvent       = "google_calendar_cancel_event"
	TypeGoogleCheckAvailability = "google_calendar_check_availability"

	primaryCalendar    = "primary"
	defaultWindowHours = 72
	defaultSlotMinutes = 30
)

type GoogleBookEventConfig struct {
	CalendarID      string `json:"calendar_id,omitempty"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes,omitempty" jsonschema:"minimum=0"`
	Title           string `json:"title,omitempty"`
	Description     string `json:"description,omitempty"`
	AttendeeEmail   string `json:"attendee_email,omitempty"`
}

func (c *GoogleBookEventConfig) Validate() error {
	return required("start_time", c.StartTime)
}

type GoogleCancelEventConfig struct {
	CalendarID string `json:"calendar_id,omitempty"`
	EventID    string `json:"event_id"`
}

func (c *GoogleCancelEventConfig) Validate() error {
	return required("event_id", c.EventID)
}

type GoogleAvailabilityConfig struct {
	CalendarID  string `json:"calendar_id,omitempty"`
	WindowHours int    `json:"window_hours,omitempty" jsonschema:"minimum=0"`
	SlotMinutes int    `json:"slot_minutes,omitempty" jsonschema:"minimum=0"`
}

func registerCalendar(r *Registry, deps Deps) {
	r.Register(TypeGoogleBookEvent, &calendarHandler[GoogleBookEventConfig]{deps: deps, run: bookGoogleEvent}, &GoogleBookEventConfig{})
	r.Register(TypeGoogleCancelEvent, &calendarHandler[GoogleCancelEventConfig]{deps: deps, run: cancelGoogleEvent}, &GoogleCancelEventConfig{})
	r.Register(TypeGoogleCheckAvailability, &calendarHandler[GoogleAvailabilityConfig]{deps: deps, run: checkGoogleAvailability}, &GoogleAvailabilityConfig{})
}

type googleCalendar struct {
	api        *apiClient
	calendarID string
	now        func() time.Time
}

type calendarHandler[T any] struct {
	deps Deps
	run  func(ctx context.Context, cal *googleCalendar, req Request, cfg T) (map[string]any, error)
}

func (h *calendarHandler[T]) Validate(raw json.RawMessage) error {
	_, err := decodeAndValidate[T]("google_calendar", raw)
	return err
}

func (h *calendarHandler[T]) Execute(ctx context.Context, req Request) Result {
	cfg, err := decodeAndValidate[T](req.Spec.Type, req.Spec.Config)
	if err != nil {
		return Fail(err)
	}
	cred, err := req.Credential(ctx, model.ProviderGoogleCalendar)
	if err != nil {
		return Fail(err)
	}
	calendarID := cred.Setting(model.SettingCalendarID)
	if calendarID == "" {
		calendarID = primaryCalendar
	}
	cal := &googleCalendar{
		api:        newAPIClient(h.deps.HTTPClient, h.deps.Endpoints.GoogleCalendar, bearer(cred.Token())),
		calendarID: calendarID,
		now:        h.deps.Now,
	}
	output, err := h.run(ctx, cal, req, cfg)
	if err != nil {
		return Fail(err)
	}
	return OK(output)
}

func (c *googleCalendar) calendar(override string) string {
	if override != "" {
		return override
	}
	return c.calendarID
}

type googleEventTime struct {
	DateTime string `json:"dateTime"`
}

func bookGoogleEvent(ctx context.Context, cal *googleCalendar, req Request, cfg GoogleBookEventConfig) (map[string]any, error) {
	appt, err := appointmentFrom(req, BookAppointmentConfig{
		StartTime:       cfg.StartTime,
		DurationMinutes: cfg.DurationMinutes,
		Title:           cfg.Title,
	})
	if err != nil {
		return nil, err
	}

	description := req.Render(cfg.Description)
	if description == "" {
		description = callSummaryText(req.Call)
	}
	event := map[string]any{
		"summary":     appt.Title,
		"description": description,
		"start":       googleEventTime{DateTime: appt.Start.Format(time.RFC3339)},
		"end":         googleEventTime{DateTime: appt.End.Format(time.RFC3339)},
	}
	if email := req.Render(cfg.AttendeeEmail); email != "" {
		event["attendees"] = []map[string]string{{"email": email}}
	}

	var created struct {
		ID       string `json:"id"`
		HTMLLink string `json:"htmlLink"`
	}
	path := "/calendars/" + url.PathEscape(cal.calendar(req.Render(cfg.CalendarID))) + "/events"
	if err := cal.api.do(ctx, http.MethodPost, path, nil, event, &created); err != nil {
		return nil, err
	}
	return map[string]any{
		"event_id":   created.ID,
		"html_link":  created.HTMLLink,
		"start_time": appt.Start.Format(time.RFC3339),
	}, nil
}

func cancelGoogleEvent(ctx context.Context, cal *googleCalendar, req Request, cfg GoogleCancelEventConfig) (map[string]any, error) {
	eventID := req.Render(cfg.EventID)
	if eventID == "" {
		return nil, ConfigError("event_id rendered empty")
	}
	path := "/calendars/" + url.PathEscape(cal.calendar(req.Render(cfg.CalendarID))) + "/events/" + url.PathEscape(eventID)
	if err := cal.api.do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return nil, err
	}
	return map[string]any{"event_id": eventID}, nil
}

type busyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func checkGoogleAvailability(ctx context.Context, cal *googleCalendar, req Request, cfg GoogleAvailabilityConfig) (map[string]any, error) {
	window := cfg.WindowHours
	if window <= 0 {
		window = defaultWindowHours
	}
	slot := cfg.SlotMinutes
	if slot <= 0 {
		slot = defaultSlotMinutes
	}
	calendarID := cal.calendar(req.Render(cfg.CalendarID))
	from := cal.now().UTC().Truncate(time.Minute)
	to := from.Add(time.Duration(window) * time.Hour)

	var resp struct {
		Calendars map[string]struct {
			Busy []busyInterval `json:"busy"`
		} `json:"calendars"`
	}
	err := cal.api.do(ctx, http.MethodPost, "/freeBusy", nil, map[string]any{
		"timeMin": from.Format(time.RFC3339),
		"timeMax": to.Format(time.RFC3339),
		"items":   []map[string]string{{"id": calendarID}},
	}, &resp)
	if err != nil {
		return nil, err
	}

	busy := resp.Calendars[calendarID].Busy
	next, ok := firstFreeSlot(busy, from, to, time.Duration(slot)*time.Minute)
	output := map[string]any{
		"available":  ok,
		"busy_count": len(busy),
	}
	if ok {
		output["next_free_slot"] = next.Format(time.RFC3339)
	}
	return output, nil
}

// firstFreeSlot returns the earliest start in [from, to) with a gap of at least slot.
func firstFreeSlot(busy []busyInterval, from, to time.Time, slot time.Duration) (time.Time, bool) {
	sorted := append([]busyInterval(nil), busy...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	cursor := from
	for _, b := range sorted {
		if b.Start.Sub(cursor) >= slot {
			return cursor, true
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if to.Sub(cursor) >= slot {
		return cursor, true
	}
	return time.Time{}, false
}
