package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/signature"
)

type signFlags struct {
	provider string
	secret   string
	file     string
}

// newSignCommand prints the signature header a provider would send, for
// replaying recorded webhooks against a local server.
func newSignCommand(fs afero.Fs) *cobra.Command {
	flags := &signFlags{}
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the signature header for a webhook body",
		Long: `Sign a webhook body the way Retell or Vapi would.

Examples:
  relayctl sign --provider retell --secret $RETELL_API_KEY -f call_ended.json
  curl -H "$(relayctl sign --provider vapi --secret s3cret -f report.json)" \
       --data-binary @report.json http://localhost:8080/webhooks/vapi`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := openInput(cmd, fs, flags.file)
			if err != nil {
				return err
			}
			defer in.Close()
			body, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			header, value, err := signBody(model.Provider(strings.ToLower(flags.provider)), body, flags.secret, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", header, value)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.provider, "provider", "", "retell or vapi")
	cmd.Flags().StringVar(&flags.secret, "secret", "", "signing secret")
	cmd.Flags().StringVarP(&flags.file, "file", "f", "-", "body file, - for stdin")
	_ = cmd.MarkFlagRequired("provider")
	_ = cmd.MarkFlagRequired("secret")
	return cmd
}

func signBody(provider model.Provider, body []byte, secret string, at time.Time) (header, value string, err error) {
	switch provider {
	case model.ProviderRetell:
		return signature.RetellHeader, signature.SignRetell(body, secret, at), nil
	case model.ProviderVapi:
		return signature.VapiHeader, signature.Sign(body, secret), nil
	}
	return "", "", fmt.Errorf("unknown provider %q", provider)
}
