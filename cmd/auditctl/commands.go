package main

import (
	"encoding/json"
	"os/user"
	"strings"

	"auditchain/internal/domain"
	httpinfra "auditchain/internal/infra/http"

	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the audit HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return httpinfra.NewServer(a.cfg, store, a.logger).Run(cmd.Context())
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the audit tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(map[string]string{"status": "migrated", "driver": store.Driver})
		},
	}
}

func (a *app) appendCmd() *cobra.Command {
	var (
		in          domain.AppendInput
		beforeState string
		afterState  string
	)
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append one event to a scope's chain",
		Example: `  auditctl append --scope local-12 --action member.update --target-type member \
    --target-id m-881 --before '{"status":"active"}' --after '{"status":"suspended"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.ActorID == "" {
				in.ActorID = currentUser()
			}
			var err error
			if in.BeforeState, err = parseState("before", beforeState); err != nil {
				return err
			}
			if in.AfterState, err = parseState("after", afterState); err != nil {
				return err
			}
			store, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			event, err := a.chain(store).Append(cmd.Context(), in)
			if err != nil {
				return err
			}
			return a.printJSON(event)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&in.ScopeID, "scope", "", "scope id")
	flags.StringVar(&in.ActorID, "actor", "", "actor id (defaults to the OS user)")
	flags.StringVar(&in.ActorRole, "role", "operator", "actor role")
	flags.StringVar(&in.Action, "action", "", "action, e.g. member.update")
	flags.StringVar(&in.TargetType, "target-type", "", "target type")
	flags.StringVar(&in.TargetID, "target-id", "", "target id")
	flags.StringVar(&beforeState, "before", "", "JSON state before the action")
	flags.StringVar(&afterState, "after", "", "JSON state after the action")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("target-type")
	return cmd
}

func (a *app) tailCmd() *cobra.Command {
	var (
		scopeID string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the newest events of a scope, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return domain.InvalidField("limit", "must be positive")
			}
			store, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			events := make([]domain.AuditEvent, 0, limit)
			for event, err := range a.chain(store).Read(cmd.Context(), scopeID, limit) {
				if err != nil {
					return err
				}
				events = append(events, event)
			}
			return a.printJSON(events)
		},
	}
	cmd.Flags().StringVar(&scopeID, "scope", "", "scope id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	var scopeID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute a scope's chain and report the first break",
		Long: `Walks the scope's chain from the first event, recomputing every hash and
checking every previous_hash link. Prints the result as JSON and exits
non-zero when the chain is broken.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			result, err := a.chain(store).Verify(cmd.Context(), scopeID)
			if err != nil {
				return err
			}
			if err := a.printJSON(result); err != nil {
				return err
			}
			return result.Err()
		},
	}
	cmd.Flags().StringVar(&scopeID, "scope", "", "scope id")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func (a *app) scopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Register and inspect scopes",
	}

	var scope domain.Scope
	var kind string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a scope under an optional parent",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			scope.Kind = domain.ScopeKind(strings.ToLower(kind))
			actor := domain.Principal{Subject: currentUser(), Roles: []string{"operator"}}
			created, err := a.scopes(store).Create(cmd.Context(), actor, scope)
			if err != nil {
				return err
			}
			return a.printJSON(created)
		},
	}
	create.Flags().StringVar(&scope.ID, "id", "", "scope id (generated when empty)")
	create.Flags().StringVar(&scope.ParentID, "parent", "", "parent scope id")
	create.Flags().StringVar(&kind, "kind", "", "congress, federation, union, local or entity")
	create.Flags().StringVar(&scope.Name, "name", "", "display name")
	_ = create.MarkFlagRequired("kind")
	_ = create.MarkFlagRequired("name")

	show := &cobra.Command{
		Use:   "show <scope-id>",
		Short: "Print a scope and its lineage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			svc := a.scopes(store)
			found, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			lineage, err := svc.Lineage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"scope": found, "lineage": lineage})
		},
	}

	cmd.AddCommand(create, show)
	return cmd
}

func parseState(name, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, domain.InvalidField(name, "is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "auditctl"
}
