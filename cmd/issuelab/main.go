package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"issuelab/internal/config"
	"issuelab/internal/engine"
	"issuelab/internal/server"
	issuelabsdk "issuelab/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "issuelab",
	Short: "Issuelab CLI",
	Long: `Issuelab is an in-process issue tracker with a JQL-subset search
engine, sliding-window admission control and a signed, retried webhook
delivery pipeline. Run 'issuelab serve' to start the API, or use the
client subcommands against a running server.`,
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
	viper.SetEnvPrefix("ISSUELAB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("url", "http://127.0.0.1:8080", "server base URL")
	rootCmd.PersistentFlags().String("actor-id", "alice", "actor identifier")
	rootCmd.PersistentFlags().String("api-key", "", "API key")
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(deliveryCmd())
}

func serveCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.FromFile(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if secret := os.Getenv("ISSUELAB_JWT_SECRET"); secret != "" {
				cfg.Server.JWTSecret = secret
			}
			e, err := engine.New(cfg)
			if err != nil {
				return err
			}
			defer e.Close()
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					JWTSecret:              cfg.Server.JWTSecret,
					APIKeys:                cfg.Server.APIKeys,
					AllowLegacyActorHeader: cfg.Server.AllowLegacyActorHeader,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Issuelab API on http://%s%s\n", cfg.Server.Addr, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to issuelab.yml")
	return cmd
}

func client() *issuelabsdk.Client {
	c := issuelabsdk.New(viper.GetString("url"))
	c.APIKey = viper.GetString("api-key")
	c.ActorID = viper.GetString("actor-id")
	return c
}

func issueCmd() *cobra.Command {
	issue := &cobra.Command{Use: "issue", Short: "Manage issues"}
	issue.AddCommand(issueCreateCmd())
	issue.AddCommand(issueShowCmd())
	issue.AddCommand(issueTransitionCmd())
	issue.AddCommand(issueCommentCmd())
	return issue
}

func issueCreateCmd() *cobra.Command {
	var project, issueType, summary string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" || summary == "" {
				return fmt.Errorf("--project and --summary required")
			}
			is, err := client().CreateIssue(cmd.Context(), project, issueType, summary)
			if err != nil {
				return err
			}
			return printJSONOrTable(is)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project key")
	cmd.Flags().StringVar(&issueType, "type", "Task", "issue type")
	cmd.Flags().StringVar(&summary, "summary", "", "issue summary")
	return cmd
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Show issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			is, err := client().GetIssue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(is)
		},
	}
}

func issueTransitionCmd() *cobra.Command {
	var transitionID string
	cmd := &cobra.Command{
		Use:   "transition <key>",
		Short: "Apply a workflow transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if transitionID == "" {
				return fmt.Errorf("--id required")
			}
			is, err := client().ApplyTransition(cmd.Context(), args[0], transitionID)
			if err != nil {
				return err
			}
			return printJSONOrTable(is)
		},
	}
	cmd.Flags().StringVar(&transitionID, "id", "", "transition id")
	return cmd
}

func issueCommentCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "comment <key>",
		Short: "Comment on an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if body == "" {
				return fmt.Errorf("--body required")
			}
			return client().AddComment(cmd.Context(), args[0], body)
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment text")
	return cmd
}

func searchCmd() *cobra.Command {
	var startAt, maxResults int
	cmd := &cobra.Command{
		Use:   "search <jql>",
		Short: "Search issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Search(cmd.Context(), args[0], startAt, maxResults)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Key", "Type", "Status", "Assignee", "Summary", "Updated"})
			for _, is := range res.Issues {
				tw.AppendRow(table.Row{is.Key, is.Type, is.StatusID, is.Assignee, is.Summary, is.Updated})
			}
			tw.Render()
			fmt.Printf("total: %d\n", res.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&startAt, "start-at", 0, "pagination offset")
	cmd.Flags().IntVar(&maxResults, "max-results", 50, "page size")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var after int64
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := client().Events(cmd.Context(), after, n)
			if err != nil {
				return err
			}
			return printJSONOrTable(events)
		},
	}
	tail.Flags().Int64Var(&after, "after", 0, "start after sequence number")
	tail.Flags().IntVar(&n, "n", 20, "max events")
	lg.AddCommand(tail)
	return lg
}

func deliveryCmd() *cobra.Command {
	del := &cobra.Command{Use: "delivery", Short: "Inspect webhook deliveries"}

	var webhookID int64
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List delivery records",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := client().Deliveries(cmd.Context(), webhookID, limit)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(recs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Webhook", "Event", "Type", "Status", "Attempts", "Last Code"})
			for _, r := range recs {
				tw.AppendRow(table.Row{r.ID, r.WebhookID, r.EventID, r.EventType, r.Status, r.Attempts, r.LastStatusCode})
			}
			tw.Render()
			return nil
		},
	}
	list.Flags().Int64Var(&webhookID, "webhook", 0, "filter by webhook id")
	list.Flags().IntVar(&limit, "limit", 50, "max records")

	var replayID int64
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			if replayID == 0 {
				return fmt.Errorf("--id required")
			}
			rec, err := client().ReplayDelivery(cmd.Context(), replayID)
			if err != nil {
				return err
			}
			return printJSONOrTable(rec)
		},
	}
	replay.Flags().Int64Var(&replayID, "id", 0, "delivery id")

	del.AddCommand(list)
	del.AddCommand(replay)
	return del
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
