package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/dashgate/internal/config"
	"github.com/r9s-ai/dashgate/internal/credential"
	"github.com/r9s-ai/dashgate/internal/datasource"
	"github.com/r9s-ai/dashgate/internal/gate"
	"github.com/r9s-ai/dashgate/internal/logx"
)

func newCheckCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and print the effective MySQL target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, cfgPath)
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}

func runCheck(cmd *cobra.Command, cfgPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintln(out, "ok: config")

	if _, err := gate.FromConfig(cfg, logx.Discard()); err != nil {
		return fmt.Errorf("items: %w", err)
	}
	ids := make([]string, 0, len(cfg.Items))
	for id := range cfg.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Fprintf(out, "ok: items=%d %v\n", len(ids), ids)

	ds := &datasource.DataSource{
		Kind:     datasource.KindMySQL,
		Host:     cfg.MySQL.Host,
		Database: cfg.MySQL.Database,
		Port:     cfg.MySQL.Port,
	}
	cred := credential.Credential{Username: cfg.MySQL.Username, Password: cfg.MySQL.Password}
	if cred.Username == "" || cred.Password == "" {
		cred = credential.Credential{
			Username: cfg.Policy.FallbackCredential.Username,
			Password: cfg.Policy.FallbackCredential.Password,
		}
	}
	fmt.Fprintf(out, "mysql: %s\n", credential.RedactedDSN(ds, cred))
	if cfg.MySQL.Host == "" || cfg.MySQL.Database == "" {
		fmt.Fprintln(out, "warn: mysql host or database is empty")
	}
	if cfg.Policy.AnonymousRole == config.RoleAdmin {
		fmt.Fprintln(out, "warn: requests without a user id are treated as admin")
	}
	fmt.Fprintln(out, "configuration ok")
	return nil
}

func newResolveCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:     "resolve <header-value>",
		Short:   "Print the redacted context a header value resolves to",
		Example: `  dashgate resolve "userId:42,orderId:10248"`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			g, err := gate.FromConfig(cfg, logx.Discard())
			if err != nil {
				return err
			}
			h := http.Header{}
			if len(args) == 1 {
				h.Set(g.Header(), args[0])
			}
			rc := g.ResolveContext(h)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rc.LogFields())
		},
	}
	addConfigFlag(cmd, &cfgPath)
	return cmd
}
