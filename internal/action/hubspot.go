package action

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callrelay.app/relay/internal/credential"
	"callrelay.app/relay/internal/model"
)

// HubSpot association type ids (HUBSPOT_DEFINED category).
const (
	hubspotCallToContact    = 194
	hubspotNoteToContact    = 202
	hubspotMeetingToContact = 200
	hubspotDealToContact    = 3

	hubspotTagsProperty = "callrelay_tags"
)

type hubSpot struct {
	api *apiClient
}

func newHubSpot(cred *credential.Credential, deps Deps) (CRM, error) {
	return &hubSpot{api: newAPIClient(deps.HTTPClient, deps.Endpoints.HubSpot, bearer(cred.Token()))}, nil
}

type hubspotObject struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

func (h *hubSpot) findByPhone(ctx context.Context, phone string) (*hubspotObject, error) {
	var resp struct {
		Results []hubspotObject `json:"results"`
	}
	err := h.api.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", nil, map[string]any{
		"filterGroups": []any{map[string]any{
			"filters": []any{map[string]any{"propertyName": "phone", "operator": "EQ", "value": phone}},
		}},
		"properties": []string{"phone", "email", hubspotTagsProperty},
		"limit":      1,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

func (h *hubSpot) UpsertContact(ctx context.Context, c Contact) (string, error) {
	props := map[string]string{"phone": c.Phone}
	if c.FirstName != "" {
		props["firstname"] = c.FirstName
	}
	if c.LastName != "" {
		props["lastname"] = c.LastName
	}
	if c.Email != "" {
		props["email"] = c.Email
	}

	existing, err := h.findByPhone(ctx, c.Phone)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if len(c.Tags) > 0 {
			props[hubspotTagsProperty] = mergeTags(existing.Properties[hubspotTagsProperty], c.Tags)
		}
		if len(props) > 1 {
			err := h.api.do(ctx, http.MethodPatch, "/crm/v3/objects/contacts/"+url.PathEscape(existing.ID), nil,
				map[string]any{"properties": props}, nil)
			if err != nil {
				return "", err
			}
		}
		return existing.ID, nil
	}

	if len(c.Tags) > 0 {
		props[hubspotTagsProperty] = strings.Join(c.Tags, ";")
	}
	var created hubspotObject
	if err := h.api.do(ctx, http.MethodPost, "/crm/v3/objects/contacts", nil,
		map[string]any{"properties": props}, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (h *hubSpot) createAssociated(ctx context.Context, object string, props map[string]string, contactID string, assocType int) (string, error) {
	var created hubspotObject
	err := h.api.do(ctx, http.MethodPost, "/crm/v3/objects/"+object, nil, map[string]any{
		"properties": props,
		"associations": []any{map[string]any{
			"to": map[string]any{"id": contactID},
			"types": []any{map[string]any{
				"associationCategory": "HUBSPOT_DEFINED",
				"associationTypeId":   assocType,
			}},
		}},
	}, &created)
	return created.ID, err
}

func (h *hubSpot) LogCall(ctx context.Context, contact Contact, call *model.Call, note string) (string, error) {
	body := note
	if body == "" {
		body = callSummaryText(call)
	}
	props := map[string]string{
		"hs_timestamp":   time.Now().UTC().Format(time.RFC3339),
		"hs_call_body":   body,
		"hs_call_status": "COMPLETED",
	}
	if call != nil {
		if call.EndedAt != nil {
			props["hs_timestamp"] = call.EndedAt.UTC().Format(time.RFC3339)
		}
		if call.Direction != "" {
			props["hs_call_direction"] = strings.ToUpper(string(call.Direction))
		}
		if call.DurationSeconds != nil {
			props["hs_call_duration"] = strconv.Itoa(*call.DurationSeconds * 1000)
		}
		if call.FromNumber != "" {
			props["hs_call_from_number"] = call.FromNumber
		}
		if call.ToNumber != "" {
			props["hs_call_to_number"] = call.ToNumber
		}
		if call.RecordingURL != nil {
			props["hs_call_recording_url"] = *call.RecordingURL
		}
		if call.Status == model.CallStatusFailed {
			props["hs_call_status"] = "FAILED"
		}
	}
	return h.createAssociated(ctx, "calls", props, contact.ID, hubspotCallToContact)
}

// AddTags appends to a semicolon separated contact property; HubSpot has no native contact tags.
func (h *hubSpot) AddTags(ctx context.Context, contact Contact, tags []string) error {
	var current hubspotObject
	err := h.api.do(ctx, http.MethodGet, "/crm/v3/objects/contacts/"+url.PathEscape(contact.ID),
		url.Values{"properties": {hubspotTagsProperty}}, nil, &current)
	if err != nil {
		return err
	}
	return h.SetField(ctx, contact, hubspotTagsProperty, mergeTags(current.Properties[hubspotTagsProperty], tags))
}

func (h *hubSpot) UpdatePipelineStage(ctx context.Context, contact Contact, stage PipelineStage) (string, error) {
	return h.createAssociated(ctx, "deals", map[string]string{
		"dealname":  stage.Name,
		"pipeline":  stage.PipelineID,
		"dealstage": stage.StageID,
	}, contact.ID, hubspotDealToContact)
}

func (h *hubSpot) SetField(ctx context.Context, contact Contact, field, value string) error {
	return h.api.do(ctx, http.MethodPatch, "/crm/v3/objects/contacts/"+url.PathEscape(contact.ID), nil,
		map[string]any{"properties": map[string]string{field: value}}, nil)
}

func (h *hubSpot) BookAppointment(ctx context.Context, contact Contact, appt Appointment) (string, error) {
	return h.createAssociated(ctx, "meetings", map[string]string{
		"hs_timestamp":          appt.Start.UTC().Format(time.RFC3339),
		"hs_meeting_title":      appt.Title,
		"hs_meeting_start_time": appt.Start.UTC().Format(time.RFC3339),
		"hs_meeting_end_time":   appt.End.UTC().Format(time.RFC3339),
		"hs_meeting_outcome":    "SCHEDULED",
	}, contact.ID, hubspotMeetingToContact)
}

func (h *hubSpot) CancelAppointment(ctx context.Context, appointmentID string) error {
	return h.api.do(ctx, http.MethodPatch, "/crm/v3/objects/meetings/"+url.PathEscape(appointmentID), nil,
		map[string]any{"properties": map[string]string{"hs_meeting_outcome": "CANCELED"}}, nil)
}

func (h *hubSpot) AddNote(ctx context.Context, contact Contact, body string) error {
	_, err := h.createAssociated(ctx, "notes", map[string]string{
		"hs_timestamp": time.Now().UTC().Format(time.RFC3339),
		"hs_note_body": body,
	}, contact.ID, hubspotNoteToContact)
	return err
}

// TriggerWorkflow enrolls the contact by email, the only key the legacy
// enrollment endpoint accepts.
func (h *hubSpot) TriggerWorkflow(ctx context.Context, contact Contact, workflowID string) error {
	email := contact.Email
	if email == "" {
		var current hubspotObject
		err := h.api.do(ctx, http.MethodGet, "/crm/v3/objects/contacts/"+url.PathEscape(contact.ID),
			url.Values{"properties": {"email"}}, nil, &current)
		if err != nil {
			return err
		}
		email = current.Properties["email"]
	}
	if email == "" {
		return ClientError("hubspot workflow enrollment requires a contact email")
	}
	path := "/automation/v2/workflows/" + url.PathEscape(workflowID) + "/enrollments/contacts/" + url.PathEscape(email)
	return h.api.do(ctx, http.MethodPost, path, nil, nil, nil)
}

func mergeTags(existing string, add []string) string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range append(strings.Split(existing, ";"), add...) {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return strings.Join(out, ";")
}
