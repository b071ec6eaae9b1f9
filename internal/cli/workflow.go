package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"callrelay.app/relay/common/id"
	"callrelay.app/relay/core/config"
	"callrelay.app/relay/core/db"
	"callrelay.app/relay/internal/action"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/service"
	"callrelay.app/relay/internal/store"
)

// workflowFile is the YAML form of a workflow definition. A file may hold
// several documents separated by ---.
type workflowFile struct {
	AgencyID   int64            `yaml:"agency_id"`
	AgentID    *int64           `yaml:"agent_id"`
	Name       string           `yaml:"name"`
	Trigger    string           `yaml:"trigger"`
	Active     *bool            `yaml:"active"`
	Conditions []conditionFile  `yaml:"conditions"`
	Actions    []actionSpecFile `yaml:"actions"`
}

type conditionFile struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    any    `yaml:"value"`
}

type actionSpecFile struct {
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

func (w workflowFile) params() (service.CreateWorkflowParams, error) {
	p := service.CreateWorkflowParams{
		AgencyID: w.AgencyID,
		AgentID:  w.AgentID,
		Name:     w.Name,
		Trigger:  model.Trigger(w.Trigger),
		IsActive: w.Active == nil || *w.Active,
	}
	for _, c := range w.Conditions {
		p.Conditions = append(p.Conditions, model.Condition{Field: c.Field, Operator: c.Operator, Value: c.Value})
	}
	for i, a := range w.Actions {
		cfg := a.Config
		if cfg == nil {
			cfg = map[string]any{}
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			return p, fmt.Errorf("action %d: %w", i, err)
		}
		p.Actions = append(p.Actions, model.ActionSpec{Type: a.Type, Config: raw})
	}
	return p, nil
}

func readWorkflows(r io.Reader) ([]service.CreateWorkflowParams, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []service.CreateWorkflowParams
	for {
		var wf workflowFile
		err := dec.Decode(&wf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing workflow %d: %w", len(out)+1, err)
		}
		p, err := wf.params()
		if err != nil {
			return nil, fmt.Errorf("workflow %d: %w", len(out)+1, err)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errors.New("no workflows in file")
	}
	return out, nil
}

func openInput(cmd *cobra.Command, fs afero.Fs, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return fs.Open(path)
}

func newWorkflowCommand(fs afero.Fs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Check and install workflow definitions",
	}
	cmd.AddCommand(newWorkflowValidateCommand(fs), newWorkflowApplyCommand(fs))
	return cmd
}

func newWorkflowValidateCommand(fs afero.Fs) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workflow definitions without touching the database",
		Long: `Validate checks triggers, conditions and every action config the same
way the admin API does when a workflow is saved.

Examples:
  relayctl workflow validate -f workflows/slack-on-negative.yaml
  cat workflows.yaml | relayctl workflow validate -f -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := openInput(cmd, fs, file)
			if err != nil {
				return err
			}
			defer in.Close()

			defs, err := readWorkflows(in)
			if err != nil {
				return err
			}
			svc := service.NewWorkflowService(nil, nil, nil, action.NewDefaultRegistry(action.Deps{}))
			return reportValidation(cmd.OutOrStdout(), defs, svc.Validate)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "workflow YAML file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func reportValidation(out io.Writer, defs []service.CreateWorkflowParams, validate func(service.CreateWorkflowParams) error) error {
	invalid := 0
	for i, p := range defs {
		err := validate(p)
		if err == nil {
			fmt.Fprintf(out, "ok      %d %q\n", i+1, p.Name)
			continue
		}
		invalid++
		fmt.Fprintf(out, "invalid %d %q\n", i+1, p.Name)
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			for _, problem := range verr.Problems {
				fmt.Fprintf(out, "        - %s\n", problem)
			}
		} else {
			fmt.Fprintf(out, "        - %v\n", err)
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d workflows invalid", invalid, len(defs))
	}
	return nil
}

func newWorkflowApplyCommand(fs afero.Fs) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Validate and create workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := openInput(cmd, fs, file)
			if err != nil {
				return err
			}
			defer in.Close()

			defs, err := readWorkflows(in)
			if err != nil {
				return err
			}

			cfg, err := config.Load(config.ServiceTypeCLI)
			if err != nil {
				return err
			}
			if err := id.Init(2); err != nil {
				return err
			}
			database, err := db.New(cmd.Context(), cfg.DB)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer database.Close()

			stores := store.NewStores(database.Querier())
			svc := service.NewWorkflowService(stores.Workflows(), stores.ExecutionLogs(), stores.Calls(),
				action.NewDefaultRegistry(action.Deps{URLPolicy: action.URLPolicy{AllowHTTP: cfg.IsDevelopment()}}))

			// validate everything first so a bad file creates nothing
			if err := reportValidation(cmd.OutOrStdout(), defs, svc.Validate); err != nil {
				return err
			}
			for _, p := range defs {
				wf, err := svc.Create(cmd.Context(), p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %d %q\n", wf.ID, wf.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "workflow YAML file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
