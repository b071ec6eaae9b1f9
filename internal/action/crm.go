package action

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"callrelay.app/relay/internal/credential"
	"callrelay.app/relay/internal/model"
)

// CRM is the contract the CRM actions need from a provider client.
type CRM interface {
	UpsertContact(ctx context.Context, c Contact) (string, error)
	LogCall(ctx context.Context, contact Contact, call *model.Call, note string) (string, error)
	AddTags(ctx context.Context, contact Contact, tags []string) error
	UpdatePipelineStage(ctx context.Context, contact Contact, stage PipelineStage) (string, error)
	SetField(ctx context.Context, contact Contact, field, value string) error
	BookAppointment(ctx context.Context, contact Contact, appt Appointment) (string, error)
	CancelAppointment(ctx context.Context, appointmentID string) error
	AddNote(ctx context.Context, contact Contact, body string) error
	TriggerWorkflow(ctx context.Context, contact Contact, workflowID string) error
}

type Contact struct {
	ID        string
	Phone     string
	FirstName string
	LastName  string
	Email     string
	Tags      []string
}

type PipelineStage struct {
	PipelineID string
	StageID    string
	Name       string
}

type Appointment struct {
	CalendarID string
	Title      string
	Start      time.Time
	End        time.Time
}

type crmFactory func(cred *credential.Credential, deps Deps) (CRM, error)

var crmProviders = []struct {
	provider model.Provider
	factory  crmFactory
}{
	{model.ProviderGoHighLevel, newGoHighLevel},
	{model.ProviderHubSpot, newHubSpot},
}

func registerCRM(r *Registry, deps Deps) {
	for _, p := range crmProviders {
		for _, op := range crmOps {
			r.Register(string(p.provider)+"_"+op.name, &crmHandler{
				provider: p.provider,
				op:       op,
				factory:  p.factory,
				deps:     deps,
			}, op.configType)
		}
	}
}

// crmOp is one CRM action independent of the provider behind it.
type crmOp struct {
	name       string
	configType any
	validate   func(raw json.RawMessage) error
	run        func(ctx context.Context, crm CRM, req Request, contact Contact, raw json.RawMessage) (map[string]any, error)

	// upsertsContact ops build the contact from their own config.
	upsertsContact bool
}

func defineCRMOp[T any](name string, run func(ctx context.Context, crm CRM, req Request, contact Contact, cfg T) (map[string]any, error)) crmOp {
	return crmOp{
		name:       name,
		configType: new(T),
		validate: func(raw json.RawMessage) error {
			_, err := decodeAndValidate[T](name, raw)
			return err
		},
		run: func(ctx context.Context, crm CRM, req Request, contact Contact, raw json.RawMessage) (map[string]any, error) {
			cfg, err := decodeAndValidate[T](name, raw)
			if err != nil {
				return nil, err
			}
			return run(ctx, crm, req, contact, cfg)
		},
	}
}

type crmHandler struct {
	provider model.Provider
	op       crmOp
	factory  crmFactory
	deps     Deps
}

func (h *crmHandler) Validate(raw json.RawMessage) error {
	return h.op.validate(raw)
}

func (h *crmHandler) Execute(ctx context.Context, req Request) Result {
	if err := h.op.validate(req.Spec.Config); err != nil {
		return Fail(err)
	}
	cred, err := req.Credential(ctx, h.provider)
	if err != nil {
		return Fail(err)
	}
	crm, err := h.factory(cred, h.deps)
	if err != nil {
		return Fail(err)
	}

	phone := req.ContactPhone()
	if phone == "" {
		return Fail(ClientError("call has no contact phone number"))
	}
	contact := Contact{Phone: phone}
	if !h.op.upsertsContact {
		contact.ID, err = crm.UpsertContact(ctx, contact)
		if err != nil {
			return Fail(err)
		}
	}

	output, err := h.op.run(ctx, crm, req, contact, req.Spec.Config)
	if err != nil {
		return Fail(err)
	}
	if output == nil {
		output = map[string]any{}
	}
	if contact.ID != "" {
		output["contact_id"] = contact.ID
	}
	return OK(output)
}

type LogCallConfig struct {
	Note string `json:"note,omitempty"`
}

type UpsertContactConfig struct {
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Email     string   `json:"email,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type AddTagsConfig struct {
	Tags []string `json:"tags" jsonschema:"minItems=1"`
}

func (c *AddTagsConfig) Validate() error {
	if len(c.Tags) == 0 {
		return errors.New("tags must not be empty")
	}
	return nil
}

type PipelineStageConfig struct {
	PipelineID string `json:"pipeline_id"`
	StageID    string `json:"stage_id"`
	Name       string `json:"name,omitempty"`
}

func (c *PipelineStageConfig) Validate() error {
	return required("pipeline_id", c.PipelineID, "stage_id", c.StageID)
}

type LeadScoreConfig struct {
	Field string `json:"field,omitempty"`
	// Score overrides the computed score.
	Score *int   `json:"score,omitempty" jsonschema:"minimum=0,maximum=100"`
}

type BookAppointmentConfig struct {
	CalendarID      string `json:"calendar_id,omitempty"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes,omitempty" jsonschema:"minimum=0"`
	Title           string `json:"title,omitempty"`
}

func (c *BookAppointmentConfig) Validate() error {
	return required("start_time", c.StartTime)
}

type CancelAppointmentConfig struct {
	AppointmentID string `json:"appointment_id"`
}

func (c *CancelAppointmentConfig) Validate() error {
	return required("appointment_id", c.AppointmentID)
}

type NoteConfig struct {
	Body string `json:"body"`
}

func (c *NoteConfig) Validate() error {
	return required("body", c.Body)
}

type TriggerWorkflowConfig struct {
	WorkflowID string `json:"workflow_id"`
	Email      string `json:"email,omitempty"`
}

func (c *TriggerWorkflowConfig) Validate() error {
	return required("workflow_id", c.WorkflowID)
}

type CustomFieldConfig struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (c *CustomFieldConfig) Validate() error {
	return required("field", c.Field)
}

const defaultLeadScoreField = "lead_score"

var crmOps = []crmOp{
	defineCRMOp("log_call", func(ctx context.Context, crm CRM, req Request, contact Contact, cfg LogCallConfig) (map[string]any, error) {
		note := req.Render(cfg.Note)
		id, err := crm.LogCall(ctx, contact, req.Call, note)
		if err != nil {
			return nil, err
		}
		return map[string]any{"activity_id": id}, nil
	}),
	withUpsert(defineCRMOp("upsert_contact", func(ctx context.Context, crm CRM, req Request, contact Contact, cfg UpsertContactConfig) (map[string]any, error) {
		contact.FirstName = req.Render(cfg.FirstName)
		contact.LastName = req.Render(cfg.LastName)
		contact.Email = req.Render(cfg.Email)
		contact.Tags = cfg.Tags
		id, err := crm.UpsertContact(ctx, contact)
		if err != nil {
			return nil, err
		}
		return map[string]any{"contact_id": id}, nil
	})),
	defineCRMOp("add_tags", func(ctx context.Context, crm CRM, req Request, contact Contact, cfg AddTagsConfig) (map[string]any, error) {
		tags := make([]string, 0, len(cfg.Tags))
		for _, t := range cfg.Tags {
			if rendered := req.Render(t); rendered != "" {
				tags = append(tags, rendered)
			}
		}
		return map[string]any{"tags": tags}, crm.AddTags(ctx, contact, tags)
	}),
	defineCRMOp("update_pipeline_stage", func(ctx context.Context, crm CRM, req Request, contact Contact, cfg PipelineStageConfig) (map[string]any, error) {
		name := req.Render(cfg.Name)
		if name == "" {
			name = "Call " + req.Vars["call_id"]
		}
		id, err := crm.UpdatePipelineStage(ctx, contact, PipelineStage{PipelineID: cfg.PipelineID, StageID: cfg.StageID, Name: name})
		if err != nil {
			return nil, err
		}
		return map[string]any{"opportunity_id": id}, nil
	}),
	defineCRMOp("lead_score", func(ctx context.Context, crm CRM, req Request, contact Contact, cfg LeadScoreConfig) (map[string]any, error) {
		score := LeadScore(req.Call)
		if cfg.Score != nil {
			score = *cfg.Score
		}
		field := cfg.Field
		if field == "" {
			field = defaultLeadScoreField
		}
		return map[string]any{"score": score}, crm.SetField(ctx, contact, field, strconv.Itoa(score))
	}),
	defineCRMOp("book_appointment", func(ctx context.Context, crm CRM, req Request, contact Contact, cfg BookAppointmentConfig) (map[string]any, error) {
		appt, err := appointmentFrom(req, cfg)
		if err != nil {
			return nil, err
		}
		if appt.CalendarID == "" {
			if cred, err := req.Credentials.Get(ctx, crmProviderOf(req.Spec.Type)); err == nil {
				appt.CalendarID = cred.Setting(model.SettingCalendarID)
			}
		}
		id, err := crm.BookAppointment(ctx, contact, appt)
		if err != nil {
			return nil, err
		}
		return map[string]any{"appointment_id": id, "start_time": appt.Start.Format(time.RFC3339)}, nil
	}),
	defineCRMOp("cancel_appointment", func(ctx context.Context, crm CRM, req Request, contact Contact, cfg CancelAppointmentConfig) (map[string]any, error) {
		id := req.Render(cfg.AppointmentID)
		if id == "" {
			return nil, ConfigError("appointment_id rendered empty")
		}
		return map[string]any{"appointment_id": id}, crm.CancelAppointment(ctx, id)
	}),
	defineCRMOp("add_note", func(ctx context.Context, crm CRM, req Request, contact Contact, cfg NoteConfig) (map[string]any, error) {
		return nil, crm.AddNote(ctx, contact, req.Render(cfg.Body))
	}),
	withUpsert(defineCRMOp("trigger_workflow", func(ctx context.Context, crm CRM, req Request, contact Contact, cfg TriggerWorkflowConfig) (map[string]any, error) {
		contact.Email = req.Render(cfg.Email)
		id, err := crm.UpsertContact(ctx, contact)
		if err != nil {
			return nil, err
		}
		contact.ID = id
		out := map[string]any{"workflow_id": cfg.WorkflowID, "contact_id": id}
		return out, crm.TriggerWorkflow(ctx, contact, cfg.WorkflowID)
	})),
	defineCRMOp("update_custom_field", func(ctx context.Context, crm CRM, req Request, contact Contact, cfg CustomFieldConfig) (map[string]any, error) {
		value := req.Render(cfg.Value)
		return map[string]any{"field": cfg.Field, "value": value}, crm.SetField(ctx, contact, cfg.Field, value)
	}),
}

func withUpsert(op crmOp) crmOp {
	op.upsertsContact = true
	return op
}

func crmProviderOf(actionType string) model.Provider {
	for _, p := range crmProviders {
		prefix := string(p.provider) + "_"
		if len(actionType) > len(prefix) && actionType[:len(prefix)] == prefix {
			return p.provider
		}
	}
	return ""
}

const defaultAppointmentMinutes = 30

func appointmentFrom(req Request, cfg BookAppointmentConfig) (Appointment, error) {
	start, err := time.Parse(time.RFC3339, req.Render(cfg.StartTime))
	if err != nil {
		return Appointment{}, ConfigError("start_time must be RFC 3339: %v", err)
	}
	minutes := cfg.DurationMinutes
	if minutes <= 0 {
		minutes = defaultAppointmentMinutes
	}
	title := req.Render(cfg.Title)
	if title == "" {
		title = "Call follow-up"
	}
	return Appointment{
		CalendarID: req.Render(cfg.CalendarID),
		Title:      title,
		Start:      start,
		End:        start.Add(time.Duration(minutes) * time.Minute),
	}, nil
}

// LeadScore rates a call from 0 to 100. A provider or analysis score wins;
// otherwise sentiment and engagement time decide.
func LeadScore(call *model.Call) int {
	if call == nil {
		return 0
	}
	if call.CallScore != nil {
		return clamp(*call.CallScore, 0, 100)
	}
	if call.Status == model.CallStatusFailed {
		return 0
	}

	score := 50
	if call.Sentiment != nil {
		switch *call.Sentiment {
		case "positive":
			score += 25
		case "negative":
			score -= 25
		}
	}
	if call.DurationSeconds != nil {
		switch d := *call.DurationSeconds; {
		case d >= 120:
			score += 15
		case d >= 60:
			score += 10
		case d < 20:
			score -= 20
		}
	}
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
