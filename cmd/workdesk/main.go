package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"workdesk/internal/app"
	"workdesk/internal/config"
	"workdesk/internal/db"
	"workdesk/internal/domain"
	"workdesk/internal/engine"
	"workdesk/internal/events"
	"workdesk/internal/repo"
	"workdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "workdesk",
	Short: "Workdesk work-item engine",
	Long: `Workdesk executes human work-item commands for workflow engines.
- Work items are created by a workflow step, offered to eligible users and claimed, completed or cancelled.
- Every command is validated, decided and applied in one transaction with audit, participants and an outbox event.
- Idempotency-Key and Business-Key make retries safe.
- Configuration lives in <workspace>/workdesk.yml; run 'workdesk init' to write the defaults.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WORKDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/workdesk.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workItemCmd())
	rootCmd.AddCommand(candidatesCmd())
	rootCmd.AddCommand(outboxCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(idempotencyCmd())
}

func initCmd() *cobra.Command {
	var force bool
	var adminID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default workdesk.yml and create the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(adminID)), 0o644); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				fmt.Printf("Initialized workspace with %s (admin %s)\n", path, a.Config.Engine.AdminID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	cmd.Flags().StringVar(&adminID, "admin-id", domain.DefaultAdminID, "admin identity used as assignment fallback")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, noRelay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and the outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("addr") && a.Config.Server.Addr != "" {
					addr = a.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:        viper.GetString("jwt-secret"),
					AllowActorHeader: allowActorHeader,
					Logger:           a.Logger,
				}
				if authCfg.JWTSecret == "" && !allowActorHeader {
					return fmt.Errorf("WORKDESK_JWT_SECRET is required unless --allow-actor-header is set")
				}
				handler, err := server.New(server.Config{
					Engine:      a.Engine,
					BasePath:    basePath,
					Auth:        authCfg,
					CORSOrigins: a.Config.Server.CORSOrigins,
					Logger:      a.Logger,
				})
				if err != nil {
					return err
				}
				if !noRelay && a.Config.Features.Events {
					sched, err := events.NewScheduler(a.Config.Outbox.Schedule, a.Engine.Relay(a.Engine.Publisher()), a.Logger)
					if err != nil {
						return err
					}
					sched.Start()
					defer sched.Stop()
				}
				fmt.Printf("Serving Workdesk API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
				return server.ListenAndServe(ctx, addr, handler, a.Logger)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	cmd.Flags().BoolVar(&noRelay, "no-relay", false, "do not run the scheduled outbox relay")
	return cmd
}

func workItemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workitem",
		Aliases: []string{"wi"},
		Short:   "Create, act on and inspect work items",
	}
	cmd.AddCommand(workItemCreateCmd())
	cmd.AddCommand(workItemClaimCmd())
	cmd.AddCommand(workItemCompleteCmd())
	cmd.AddCommand(workItemCancelCmd())
	cmd.AddCommand(workItemGetCmd())
	cmd.AddCommand(workItemListCmd())
	cmd.AddCommand(workItemAuditCmd())
	cmd.AddCommand(workItemParticipantsCmd())
	return cmd
}

type specFlags struct {
	users, groups, positions, orgUnits []string
	strategy, mode, sodKey             string
}

func (f *specFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&f.users, "user", nil, "candidate user (repeatable)")
	cmd.Flags().StringArrayVar(&f.groups, "group", nil, "candidate group (repeatable)")
	cmd.Flags().StringArrayVar(&f.positions, "position", nil, "candidate position (repeatable)")
	cmd.Flags().StringArrayVar(&f.orgUnits, "org-unit", nil, "candidate org unit (repeatable)")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "distribution strategy")
	cmd.Flags().StringVar(&f.mode, "mode", "", "distribution mode (PUSH or PULL)")
	cmd.Flags().StringVar(&f.sodKey, "sod-key", "", "separation of duties key")
}

func (f specFlags) spec() domain.AssignmentSpec {
	return domain.AssignmentSpec{
		CandidateUsers:        f.users,
		CandidateGroups:       f.groups,
		CandidatePositions:    f.positions,
		CandidateOrgUnits:     f.orgUnits,
		Strategy:              domain.StrategyType(strings.ToUpper(f.strategy)),
		Mode:                  domain.DistributionMode(strings.ToUpper(f.mode)),
		SeparationOfDutiesKey: f.sodKey,
	}
}

type keyFlags struct {
	idempotencyKey, businessKey string
	expectedVersion             int64
}

func (f *keyFlags) bind(cmd *cobra.Command, withVersion bool) {
	cmd.Flags().StringVar(&f.idempotencyKey, "idempotency-key", "", "idempotency key")
	cmd.Flags().StringVar(&f.businessKey, "business-key", "", "business key")
	if withVersion {
		cmd.Flags().Int64Var(&f.expectedVersion, "expected-version", 0, "fail unless the item is at this version")
	}
}

func workItemCreateCmd() *cobra.Command {
	var c engine.CreateCommand
	var sf specFlags
	var kf keyFlags
	var inputs, outputs, optionalOutputs, contextData []string
	var due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			c.AssignmentSpec = sf.spec()
			c.IdempotencyKey = kf.idempotencyKey
			c.BusinessKey = kf.businessKey
			c.InitiatorID = viper.GetString("actor-id")
			if due != "" {
				t, err := time.Parse(time.RFC3339, due)
				if err != nil {
					return fmt.Errorf("--due: %w", err)
				}
				c.DueDate = &t
			}
			in, err := parseAssignments(inputs)
			if err != nil {
				return err
			}
			for _, kv := range inputs {
				name, _, _ := strings.Cut(kv, "=")
				c.Parameters = append(c.Parameters, domain.Parameter{Name: name, Direction: domain.DirectionIn, Mandatory: true, Value: in[name]})
			}
			for _, name := range outputs {
				c.Parameters = append(c.Parameters, domain.Parameter{Name: name, Direction: domain.DirectionOut, Mandatory: true})
			}
			for _, name := range optionalOutputs {
				c.Parameters = append(c.Parameters, domain.Parameter{Name: name, Direction: domain.DirectionOut})
			}
			if c.ContextData, err = parseAssignments(contextData); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Create(ctx, c)
				return printResult(res, err)
			})
		},
	}
	cmd.Flags().StringVar(&c.WorkflowID, "workflow", "", "workflow id")
	cmd.Flags().StringVar(&c.RunID, "run", "", "workflow run id")
	cmd.Flags().StringVar(&c.TaskType, "type", "", "task type")
	cmd.Flags().StringVar(&c.TaskName, "name", "", "task name")
	cmd.Flags().StringVar(&c.Description, "description", "", "description")
	cmd.Flags().IntVar(&c.Priority, "priority", 0, "priority")
	cmd.Flags().StringVar(&due, "due", "", "due date (RFC3339)")
	cmd.Flags().StringVar(&c.Lifecycle, "lifecycle", "", "lifecycle name")
	cmd.Flags().StringArrayVar(&inputs, "in", nil, "input parameter name=value (repeatable)")
	cmd.Flags().StringArrayVar(&outputs, "out", nil, "mandatory output parameter name (repeatable)")
	cmd.Flags().StringArrayVar(&optionalOutputs, "out-optional", nil, "optional output parameter name (repeatable)")
	cmd.Flags().StringArrayVar(&contextData, "context", nil, "context data key=value (repeatable)")
	sf.bind(cmd)
	kf.bind(cmd, false)
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func workItemClaimCmd() *cobra.Command {
	var kf keyFlags
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim a work item as the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Claim(ctx, engine.ClaimCommand{
					WorkItemID:      id,
					ActorID:         viper.GetString("actor-id"),
					IdempotencyKey:  kf.idempotencyKey,
					BusinessKey:     kf.businessKey,
					ExpectedVersion: kf.expectedVersion,
				})
				return printResult(res, err)
			})
		},
	}
	kf.bind(cmd, true)
	return cmd
}

func workItemCompleteCmd() *cobra.Command {
	var kf keyFlags
	var output []string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a claimed work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			out, err := parseAssignments(output)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Complete(ctx, engine.CompleteCommand{
					WorkItemID:      id,
					ActorID:         viper.GetString("actor-id"),
					Output:          out,
					IdempotencyKey:  kf.idempotencyKey,
					BusinessKey:     kf.businessKey,
					ExpectedVersion: kf.expectedVersion,
				})
				return printResult(res, err)
			})
		},
	}
	cmd.Flags().StringArrayVar(&output, "output", nil, "output parameter name=value (repeatable)")
	kf.bind(cmd, true)
	return cmd
}

func workItemCancelCmd() *cobra.Command {
	var kf keyFlags
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Cancel(ctx, engine.CancelCommand{
					WorkItemID:      id,
					ActorID:         viper.GetString("actor-id"),
					Reason:          reason,
					IdempotencyKey:  kf.idempotencyKey,
					BusinessKey:     kf.businessKey,
					ExpectedVersion: kf.expectedVersion,
				})
				return printResult(res, err)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	kf.bind(cmd, true)
	return cmd
}

func workItemGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				wi, err := a.Engine.GetWorkItem(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(wi)
			})
		},
	}
}

func workItemListCmd() *cobra.Command {
	var f repo.WorkItemFilters
	var state string
	var contextFilters []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.State = domain.State(strings.ToUpper(state))
			if len(contextFilters) > 0 {
				f.Context = map[string]string{}
				for _, kv := range contextFilters {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("--context %q: expected key=value", kv)
					}
					f.Context[k] = v
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, total, err := a.Engine.ListWorkItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Workflow", "Task Type", "State", "Version", "Assignee", "Offered To"})
				for _, wi := range items {
					tw.AppendRow(table.Row{wi.ID, wi.WorkflowID, wi.TaskType, wi.State, wi.Version, wi.AssigneeID, strings.Join(wi.OfferedTo, ",")})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "", "total", total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state filter")
	cmd.Flags().StringVar(&f.User, "user", "", "items assigned or offered to user")
	cmd.Flags().StringVar(&f.WorkflowID, "workflow", "", "workflow filter")
	cmd.Flags().StringVar(&f.TaskType, "type", "", "task type filter")
	cmd.Flags().StringArrayVar(&contextFilters, "context", nil, "context data key=value filter (repeatable)")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "page offset")
	return cmd
}

func workItemAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <id>",
		Short: "Show the audit trail of a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.ListAudit(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Action", "From", "To", "Actor", "At"})
				for _, e := range entries {
					tw.AppendRow(table.Row{e.ID, e.Action, e.FromState, e.ToState, e.ActorID, e.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func workItemParticipantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "participants <id>",
		Short: "Show who took part in a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ps, err := a.Engine.ListParticipants(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(ps)
			})
		},
	}
}

func candidatesCmd() *cobra.Command {
	var sf specFlags
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Resolve the users an assignment spec makes eligible",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.Candidates(ctx, sf.spec())
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	sf.bind(cmd)
	return cmd
}

func outboxCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "outbox", Short: "Inspect and relay outbox events"}
	var f repo.OutboxFilters
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.OutboxStatus(strings.ToUpper(status))
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				evts, err := a.Engine.ListOutbox(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Work Item", "Version", "Status", "Attempts", "Last Error"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.EventType, evt.AggregateID, evt.Version, evt.Status, evt.Attempts, evt.LastError})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().Int64Var(&f.AggregateID, "work-item", 0, "work item id")
	list.Flags().StringVar(&f.EventType, "type", "", "event type")
	list.Flags().IntVar(&f.Limit, "limit", 50, "max events")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "relay",
		Short: "Publish one batch of pending events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.Relay(a.Engine.Publisher()).RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	})
	return cmd
}

type orgFile struct {
	Changes []struct {
		Kind     string `yaml:"kind"`
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		ParentID string `yaml:"parent_id"`
		UserID   string `yaml:"user_id"`
	} `yaml:"changes"`
}

func orgCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "org", Short: "Maintain groups, positions and org units"}
	cmd.AddCommand(&cobra.Command{
		Use:   "apply <file.yml>",
		Short: "Apply a YAML list of org changes in one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var f orgFile
			if err := yaml.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			changes := make([]engine.OrgChange, 0, len(f.Changes))
			for _, c := range f.Changes {
				changes = append(changes, engine.OrgChange{
					Kind:     engine.OrgChangeKind(c.Kind),
					ID:       c.ID,
					Name:     c.Name,
					ParentID: c.ParentID,
					UserID:   c.UserID,
				})
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.ApplyOrgChanges(ctx, changes...); err != nil {
					return err
				}
				fmt.Printf("applied %d org changes\n", len(changes))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add-member <group> <user>...",
		Short: "Add users to a group, creating it if needed",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes := []engine.OrgChange{{Kind: engine.OrgAddGroup, ID: args[0]}}
			for _, user := range args[1:] {
				changes = append(changes, engine.OrgChange{Kind: engine.OrgAddMember, ID: args[0], UserID: user})
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.ApplyOrgChanges(ctx, changes...)
			})
		},
	})
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				key, secret, err := a.Engine.Repo.IssueAPIKey(ctx, viper.GetString("actor-id"), name, time.Now())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key name")
	cmd.AddCommand(create)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys of the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the current actor (needs WORKDESK_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), viper.GetString("actor-id"), ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func idempotencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "idempotency <key>",
		Short: "Show the stored outcome of an idempotency key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				rec, err := a.Engine.GetIdempotencyRecord(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
		LogLevel:   viper.GetString("log-level"),
		LogWriter:  os.Stderr,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var errRejected = errors.New("command rejected")

func printResult(res engine.Result, err error) error {
	if err != nil {
		return err
	}
	if perr := printJSONOrTable(res); perr != nil {
		return perr
	}
	if !res.Decision.Accepted {
		return fmt.Errorf("%w: %s", errRejected, res.Decision.Reason)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid work item id %q", s)
	}
	return id, nil
}

// parseAssignments reads key=value pairs. Values that parse as JSON keep
// their type, everything else is a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%q: expected key=value", kv)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
