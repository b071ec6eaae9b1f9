package action

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"callrelay.app/relay/internal/credential"
	"callrelay.app/relay/internal/model"
)

const goHighLevelVersion = "2021-07-28"

type goHighLevel struct {
	api        *apiClient
	locationID string
}

func newGoHighLevel(cred *credential.Credential, deps Deps) (CRM, error) {
	locationID := cred.Setting(model.SettingLocationID)
	if locationID == "" {
		return nil, ClientError("gohighlevel integration has no %s", model.SettingLocationID)
	}
	header := bearer(cred.Token())
	header.Set("Version", goHighLevelVersion)
	return &goHighLevel{
		api:        newAPIClient(deps.HTTPClient, deps.Endpoints.GoHighLevel, header),
		locationID: locationID,
	}, nil
}

type ghlContactResponse struct {
	Contact *struct {
		ID string `json:"id"`
	} `json:"contact"`
}

func (g *goHighLevel) UpsertContact(ctx context.Context, c Contact) (string, error) {
	body := map[string]any{
		"locationId": g.locationID,
		"phone":      c.Phone,
	}
	if c.FirstName != "" {
		body["firstName"] = c.FirstName
	}
	if c.LastName != "" {
		body["lastName"] = c.LastName
	}
	if c.Email != "" {
		body["email"] = c.Email
	}
	if len(c.Tags) > 0 {
		body["tags"] = c.Tags
	}

	var resp ghlContactResponse
	if err := g.api.do(ctx, http.MethodPost, "/contacts/upsert", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.Contact == nil || resp.Contact.ID == "" {
		return "", ClientError("gohighlevel upsert returned no contact")
	}
	return resp.Contact.ID, nil
}

// LogCall records the call as a contact note; the public API has no
// generic call activity object.
func (g *goHighLevel) LogCall(ctx context.Context, contact Contact, call *model.Call, note string) (string, error) {
	body := note
	if body == "" {
		body = callSummaryText(call)
	}
	var resp struct {
		Note struct {
			ID string `json:"id"`
		} `json:"note"`
	}
	err := g.api.do(ctx, http.MethodPost, "/contacts/"+url.PathEscape(contact.ID)+"/notes", nil,
		map[string]any{"body": body}, &resp)
	return resp.Note.ID, err
}

func (g *goHighLevel) AddTags(ctx context.Context, contact Contact, tags []string) error {
	return g.api.do(ctx, http.MethodPost, "/contacts/"+url.PathEscape(contact.ID)+"/tags", nil,
		map[string]any{"tags": tags}, nil)
}

func (g *goHighLevel) UpdatePipelineStage(ctx context.Context, contact Contact, stage PipelineStage) (string, error) {
	var resp struct {
		Opportunity struct {
			ID string `json:"id"`
		} `json:"opportunity"`
	}
	err := g.api.do(ctx, http.MethodPost, "/opportunities/upsert", nil, map[string]any{
		"locationId":      g.locationID,
		"contactId":       contact.ID,
		"pipelineId":      stage.PipelineID,
		"pipelineStageId": stage.StageID,
		"name":            stage.Name,
		"status":          "open",
	}, &resp)
	return resp.Opportunity.ID, err
}

func (g *goHighLevel) SetField(ctx context.Context, contact Contact, field, value string) error {
	return g.api.do(ctx, http.MethodPut, "/contacts/"+url.PathEscape(contact.ID), nil, map[string]any{
		"customFields": []map[string]any{{"key": field, "field_value": value}},
	}, nil)
}

func (g *goHighLevel) BookAppointment(ctx context.Context, contact Contact, appt Appointment) (string, error) {
	if appt.CalendarID == "" {
		return "", ConfigError("calendar_id is required for gohighlevel appointments")
	}
	var resp struct {
		ID string `json:"id"`
	}
	err := g.api.do(ctx, http.MethodPost, "/calendars/events/appointments", nil, map[string]any{
		"calendarId": appt.CalendarID,
		"locationId": g.locationID,
		"contactId":  contact.ID,
		"title":      appt.Title,
		"startTime":  appt.Start.Format(time.RFC3339),
		"endTime":    appt.End.Format(time.RFC3339),
	}, &resp)
	return resp.ID, err
}

func (g *goHighLevel) CancelAppointment(ctx context.Context, appointmentID string) error {
	return g.api.do(ctx, http.MethodPut, "/calendars/events/appointments/"+url.PathEscape(appointmentID), nil,
		map[string]any{"appointmentStatus": "cancelled"}, nil)
}

func (g *goHighLevel) AddNote(ctx context.Context, contact Contact, body string) error {
	return g.api.do(ctx, http.MethodPost, "/contacts/"+url.PathEscape(contact.ID)+"/notes", nil,
		map[string]any{"body": body}, nil)
}

func (g *goHighLevel) TriggerWorkflow(ctx context.Context, contact Contact, workflowID string) error {
	path := fmt.Sprintf("/contacts/%s/workflow/%s", url.PathEscape(contact.ID), url.PathEscape(workflowID))
	return g.api.do(ctx, http.MethodPost, path, nil, map[string]any{}, nil)
}

// callSummaryText is the human-readable activity text used when a CRM action
// has no explicit note.
func callSummaryText(call *model.Call) string {
	if call == nil {
		return "Call"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s call", titleWord(string(call.Direction)))
	if call.DurationSeconds != nil {
		fmt.Fprintf(&b, " (%ds)", *call.DurationSeconds)
	}
	fmt.Fprintf(&b, " - %s", call.Status)
	if call.Sentiment != nil && *call.Sentiment != "" {
		fmt.Fprintf(&b, ", sentiment %s", *call.Sentiment)
	}
	if call.Summary != nil && *call.Summary != "" {
		b.WriteString("\n\n")
		b.WriteString(*call.Summary)
	}
	if call.RecordingURL != nil && *call.RecordingURL != "" {
		b.WriteString("\n\nRecording: ")
		b.WriteString(*call.RecordingURL)
	}
	return b.String()
}
