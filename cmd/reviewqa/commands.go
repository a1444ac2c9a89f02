package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/reviewqa/internal/api"
	"github.com/kalambet/reviewqa/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.csv>",
	Short: "Load a CSV review export into the document store",
	Long: `Load a CSV review export into the document store.

The file needs a review column and a product title column (see
ingestion.content_column and ingestion.title_column). Rows missing either
are skipped. Ingestion runs locally against the store; the server does not
need to be running.

Examples:
  reviewqa ingest ./flipkart_product_review.csv
  reviewqa ingest ./reviews.csv --fresh`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fresh, _ := cmd.Flags().GetBool("fresh")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Ingesting %s into %s", args[0], a.documents.Collection())
		res, err := a.ingestFile(ctx, args[0], fresh)
		if err != nil {
			if res.Ingested > 0 {
				printWarning("%d documents were stored before the failure", res.Ingested)
			}
			return err
		}

		printSuccess("Ingested %d documents (%d rows skipped)", res.Ingested, res.Skipped)
		return nil
	},
}

func init() {
	ingestCmd.Flags().Bool("fresh", false, "empty the collection before loading")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask [question...]",
	Short: "Ask a product question; without a question, start an interactive session",
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		showSources, _ := cmd.Flags().GetBool("sources")
		if session == "" {
			session = uuid.NewString()
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		if len(args) > 0 {
			return askOnce(ctx, client, os.Stdout, session, strings.Join(args, " "), showSources)
		}
		printStep("Session %s (type \"exit\" to quit)", session)
		return repl(ctx, client, os.Stdin, os.Stdout, session, showSources)
	},
}

func init() {
	askCmd.Flags().String("session", "", "session id to continue (default: a new session)")
	askCmd.Flags().Bool("sources", false, "print the reviews the answer was based on")
}

func askOnce(ctx context.Context, client *apiClient, w io.Writer, session, question string, showSources bool) error {
	resp, err := client.post(ctx, "/v1/ask", api.AskRequest{SessionID: session, Question: question})
	if err != nil {
		return err
	}

	var out api.AskResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}

	printAnswer(w, out)
	if showSources {
		printSources(w, out.Sources)
	}
	return nil
}

// repl reads one question per line until EOF or "exit". Errors are printed
// and the session continues.
func repl(ctx context.Context, client *apiClient, in io.Reader, w io.Writer, session string, showSources bool) error {
	scanner := bufio.NewScanner(in)
	for {
		printPrompt(w)
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := askOnce(ctx, client, w, session, line, showSources); err != nil {
			printError("%v", err)
		}
	}
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find the reviews most similar to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/search?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(context.Background(), path)
		if err != nil {
			return err
		}

		var out api.SearchResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if len(out.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		printSources(os.Stdout, out.Results)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 3, "maximum number of results")
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or close conversation sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showSession(context.Background(), client, os.Stdout, args[0])
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id>",
	Short: "Close a session and delete its turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(context.Background(), "/v1/sessions/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Session %s cleared", args[0])
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}

func showSession(ctx context.Context, client *apiClient, w io.Writer, id string) error {
	resp, err := client.get(ctx, "/v1/sessions/"+url.PathEscape(id))
	if err != nil {
		return err
	}

	var out api.SessionResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}

	if len(out.Turns) == 0 {
		fmt.Fprintln(w, "No turns recorded.")
		return nil
	}
	for _, t := range out.Turns {
		printTurn(w, t)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
