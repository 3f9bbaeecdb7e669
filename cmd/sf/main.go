package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"scholarflow/internal/app"
	"scholarflow/internal/db"
	"scholarflow/internal/domain"
	"scholarflow/internal/engine"
	"scholarflow/internal/migrate"
	"scholarflow/internal/repo"
	"scholarflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "ScholarFlow CLI",
	Long: `ScholarFlow drives the editorial lifecycle of scholarly manuscripts:
peer review routing, editorial decisions, post-acceptance production and the
publish gates (payment settled, production artifact approved).

The workspace is a directory holding scholarflow.yml and a .scholarflow
database. Start with 'sf init', then 'sf serve' for the HTTP API or the
manuscript/production subcommands for local administration.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SCHOLARFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "acting user identifier")
	rootCmd.PersistentFlags().String("roles", "admin", "comma-separated roles for the acting user")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("roles", rootCmd.PersistentFlags().Lookup("roles"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(manuscriptCmd())
	rootCmd.AddCommand(productionCmd())
	rootCmd.AddCommand(scopeCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
}

func actor() engine.Principal {
	var roles []string
	for _, r := range strings.Split(viper.GetString("roles"), ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return engine.Principal{UserID: viper.GetString("actor-id"), Roles: roles}
}

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	appCtx, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Provision a workspace (config, schema, demo journal)",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.Init(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer appCtx.Close()
			fmt.Printf("workspace ready: %s\n", appCtx.Workspace)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				v, err := migrate.SchemaVersion(appCtx.DB)
				if err != nil {
					return err
				}
				fmt.Printf("schema at version %d\n", v)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				secret := appCtx.Config.Auth.JWTSecret
				if env := os.Getenv("SCHOLARFLOW_JWT_SECRET"); env != "" {
					secret = env
				}
				if secret == "" {
					return fmt.Errorf("jwt secret required: set auth.jwt_secret or SCHOLARFLOW_JWT_SECRET")
				}
				handler, err := server.New(server.Config{
					Engine:   appCtx.Engine,
					Files:    appCtx.Files,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: appCtx.Config.Auth.AllowLegacyActorHeader,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving ScholarFlow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func journalCmd() *cobra.Command {
	jr := &cobra.Command{Use: "journal", Short: "Manage journals"}

	jr.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List journals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				journals, err := appCtx.Engine.Repo.ListJournals(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(journals)
			})
		},
	})

	var title string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				j := domain.Journal{
					ID:        uuid.New().String(),
					Title:     title,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := appCtx.Engine.Repo.InsertJournal(ctx, j); err != nil {
					return err
				}
				return printJSONOrTable(j)
			})
		},
	}
	create.Flags().StringVar(&title, "title", "", "journal title")
	jr.AddCommand(create)
	return jr
}

func manuscriptCmd() *cobra.Command {
	ms := &cobra.Command{Use: "manuscript", Short: "Manage manuscripts"}
	ms.AddCommand(manuscriptListCmd())
	ms.AddCommand(manuscriptShowCmd())
	ms.AddCommand(manuscriptIntakeCmd())
	ms.AddCommand(manuscriptStatusCmd())
	ms.AddCommand(manuscriptPublishCmd())
	ms.AddCommand(manuscriptInvoiceCmd())
	return ms
}

func manuscriptListCmd() *cobra.Command {
	var journalID, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List manuscripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				rows, err := appCtx.Engine.ListManuscripts(ctx, repo.ManuscriptFilters{
					JournalID: journalID, Status: status, Limit: limit,
				}, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Journal", "Author", "Version"})
				for _, m := range rows {
					journal := ""
					if m.JournalID != nil {
						journal = *m.JournalID
					}
					tw.AppendRow(table.Row{m.ID, m.Title, m.Status, journal, m.AuthorID, m.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&journalID, "journal", "", "filter by journal id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func manuscriptShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <manuscript-id>",
		Short: "Show a manuscript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				m, err := appCtx.Engine.GetManuscript(ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

// manuscriptIntakeCmd seeds a manuscript row. Intake normally happens in the
// submission system; this exists for local workspaces and demos.
func manuscriptIntakeCmd() *cobra.Command {
	var journalID, title, authorID string
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Seed a manuscript at pre_check (local/demo use)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" || authorID == "" {
				return fmt.Errorf("--title and --author required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				now := time.Now().UTC().Format(time.RFC3339)
				m := domain.Manuscript{
					ID:        uuid.New().String(),
					Title:     title,
					Status:    "pre_check",
					AuthorID:  authorID,
					Version:   1,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if journalID != "" {
					m.JournalID = &journalID
				}
				if err := appCtx.Engine.Repo.InsertManuscript(ctx, m); err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&journalID, "journal", "", "journal id")
	cmd.Flags().StringVar(&title, "title", "", "manuscript title")
	cmd.Flags().StringVar(&authorID, "author", "", "author user id")
	return cmd
}

func manuscriptStatusCmd() *cobra.Command {
	var comment string
	var allowSkip bool
	cmd := &cobra.Command{
		Use:   "status <manuscript-id> <to-status>",
		Short: "Apply a lifecycle transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				m, err := appCtx.Engine.UpdateStatus(ctx, engine.StatusUpdateOptions{
					ManuscriptID: args[0],
					ToStatus:     args[1],
					Actor:        actor(),
					Comment:      comment,
					AllowSkip:    allowSkip,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "audit comment")
	cmd.Flags().BoolVar(&allowSkip, "allow-skip", false, "override the adjacency map (wildcard roles only)")
	return cmd
}

func manuscriptPublishCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "publish <manuscript-id>",
		Short: "Publish through the payment and production gates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				m, err := appCtx.Engine.UpdateStatus(ctx, engine.StatusUpdateOptions{
					ManuscriptID: args[0],
					ToStatus:     "published",
					Actor:        actor(),
					Comment:      comment,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "audit comment")
	return cmd
}

func manuscriptInvoiceCmd() *cobra.Command {
	var status, metadata, comment string
	var amountCents int64
	var confirm, setAmount bool
	cmd := &cobra.Command{
		Use:   "invoice <manuscript-id>",
		Short: "Correct invoice details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				opts := engine.InvoiceUpdateOptions{
					ManuscriptID:  args[0],
					Actor:         actor(),
					InvoiceStatus: status,
					MarkConfirmed: confirm,
					Metadata:      metadata,
					Comment:       comment,
				}
				if setAmount {
					opts.AmountCents = &amountCents
				}
				inv, err := appCtx.Engine.UpdateInvoiceInfo(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(inv)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "invoice status (unpaid|paid|waived)")
	cmd.Flags().Int64Var(&amountCents, "amount-cents", 0, "override the APC amount")
	cmd.Flags().BoolVar(&setAmount, "set-amount", false, "apply --amount-cents")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "mark the invoice confirmed")
	cmd.Flags().StringVar(&metadata, "metadata", "", "replace invoice metadata JSON")
	cmd.Flags().StringVar(&comment, "comment", "", "audit comment")
	return cmd
}

func productionCmd() *cobra.Command {
	prod := &cobra.Command{Use: "production", Short: "Manage production cycles"}

	var proofreader, dueDate string
	create := &cobra.Command{
		Use:   "create <manuscript-id>",
		Short: "Open a production cycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				c, err := appCtx.Engine.CreateCycle(ctx, engine.CycleCreateOptions{
					ManuscriptID:  args[0],
					Actor:         actor(),
					ProofreaderID: proofreader,
					DueDate:       dueDate,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	create.Flags().StringVar(&proofreader, "proofreader", "", "proofreader user id")
	create.Flags().StringVar(&dueDate, "due", "", "due date (RFC3339)")
	prod.AddCommand(create)

	var contentType string
	galley := &cobra.Command{
		Use:   "galley <cycle-id> <file>",
		Short: "Upload a galley and hand the cycle to the author",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				c, err := appCtx.Engine.UploadGalley(ctx, engine.GalleyUploadOptions{
					CycleID:     args[0],
					Actor:       actor(),
					Filename:    filepath.Base(args[1]),
					ContentType: contentType,
					Data:        data,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	galley.Flags().StringVar(&contentType, "content-type", "application/pdf", "galley content type")
	prod.AddCommand(galley)

	prod.AddCommand(&cobra.Command{
		Use:   "list <manuscript-id>",
		Short: "List production cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				cycles, err := appCtx.Engine.ListCycles(ctx, args[0], actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cycles)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "No", "Status", "Layout Editor", "Galley", "Approved By"})
				for _, c := range cycles {
					galley, approvedBy := "", ""
					if c.GalleyPath != nil {
						galley = *c.GalleyPath
					}
					if c.ApprovedBy != nil {
						approvedBy = *c.ApprovedBy
					}
					tw.AppendRow(table.Row{c.ID, c.CycleNo, c.Status, c.LayoutEditorID, galley, approvedBy})
				}
				tw.Render()
				return nil
			})
		},
	})

	type cycleAction struct {
		use   string
		short string
		call  func(e engine.Engine, ctx context.Context, cycleID string) (domain.ProductionCycle, error)
	}
	for _, action := range []cycleAction{
		{"approve <cycle-id>", "Approve the cycle for publication", func(e engine.Engine, ctx context.Context, id string) (domain.ProductionCycle, error) {
			return e.ApproveCycle(ctx, id, actor())
		}},
		{"cancel <cycle-id>", "Cancel the cycle", func(e engine.Engine, ctx context.Context, id string) (domain.ProductionCycle, error) {
			return e.CancelCycle(ctx, id, actor())
		}},
		{"revise <cycle-id>", "Reopen the layout pass after corrections", func(e engine.Engine, ctx context.Context, id string) (domain.ProductionCycle, error) {
			return e.StartRevision(ctx, id, actor())
		}},
	} {
		call := action.call
		prod.AddCommand(&cobra.Command{
			Use:   action.use,
			Short: action.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
					c, err := call(appCtx.Engine, ctx, args[0])
					if err != nil {
						return err
					}
					return printJSONOrTable(c)
				})
			},
		})
	}
	return prod
}

func scopeCmd() *cobra.Command {
	sc := &cobra.Command{Use: "scope", Short: "Manage journal role scopes"}

	var userID, role string
	var revoke bool
	grant := &cobra.Command{
		Use:   "grant <journal-id>",
		Short: "Grant (or revoke) a journal role scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" || role == "" {
				return fmt.Errorf("--user and --role required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				if _, err := appCtx.Engine.Repo.GetJournal(ctx, args[0]); err != nil {
					return err
				}
				s := domain.JournalRoleScope{
					UserID: userID, JournalID: args[0], Role: role, IsActive: !revoke,
				}
				if err := appCtx.Engine.Repo.UpsertScope(ctx, s); err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	grant.Flags().StringVar(&userID, "user", "", "user id")
	grant.Flags().StringVar(&role, "role", "", "scoped role")
	grant.Flags().BoolVar(&revoke, "revoke", false, "deactivate instead of granting")
	sc.AddCommand(grant)

	sc.AddCommand(&cobra.Command{
		Use:   "list <journal-id>",
		Short: "List scopes for a journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				rows, err := appCtx.Engine.Repo.ListScopesForJournal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rows)
			})
		},
	})
	return sc
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	issue := &cobra.Command{
		Use:   "issue <user-id>",
		Short: "Issue an API key; the plaintext is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				plaintext := uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   args[0],
					Name:      name,
					KeyHash:   repo.HashAPIKey(plaintext),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := appCtx.Engine.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Printf("api key (save it now, it is not stored): %s\n", plaintext)
				return nil
			})
		},
	}
	issue.Flags().StringVar(&name, "name", "", "key label")
	ak.AddCommand(issue)
	return ak
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the audit trail"}

	var limit int
	tail := &cobra.Command{
		Use:   "tail <manuscript-id>",
		Short: "Show status transitions for a manuscript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, appCtx *app.Context) error {
				rows, err := appCtx.Engine.TransitionLogs(ctx, args[0], limit, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "From", "To", "Actor", "Comment"})
				for _, l := range rows {
					comment := ""
					if l.Comment != nil {
						comment = *l.Comment
					}
					tw.AppendRow(table.Row{l.TS, l.FromStatus, l.ToStatus, l.ActorID, comment})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "max rows")
	lg.AddCommand(tail)
	return lg
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
