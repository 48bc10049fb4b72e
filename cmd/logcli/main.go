package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"logsight-backend/config"
	"logsight-backend/internal/dto"
	"logsight-backend/internal/embedding"
	"logsight-backend/internal/keyword"
	"logsight-backend/internal/oracle"
	"logsight-backend/internal/router"
	"logsight-backend/internal/service"
	"logsight-backend/internal/session"
	"logsight-backend/internal/store"
	"logsight-backend/internal/vector"
)

type app struct {
	cfg      *config.Config
	keyword  keyword.Store
	vector   vector.Store
	ingest   service.IngestService
	analysis service.AnalysisService
	sessions *session.Manager
}

func newApp() (*app, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, err
	}

	kw, err := keyword.NewStore(cfg.Keyword.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyword store: %w", err)
	}

	provider := embedding.NewOllamaProvider(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	vs, err := vector.NewStore(cfg.Vector.DBPath, provider)
	if err != nil {
		kw.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	sessions := session.NewManager()
	conversations := store.NewInMemoryConversationStore()
	o := oracle.NewGeminiOracle(cfg.Oracle.APIKey, cfg.Oracle.ModelID)
	r := router.New(o, kw, vs, conversations, cfg.Router.MaxSteps)

	return &app{
		cfg:      cfg,
		keyword:  kw,
		vector:   vs,
		ingest:   service.NewIngestService(cfg, kw, vs, sessions),
		analysis: service.NewAnalysisService(r, conversations, sessions),
		sessions: sessions,
	}, nil
}

func (a *app) close() {
	a.keyword.Close()
	a.vector.Close()
}

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	var verbose bool
	rootCmd := &cobra.Command{
		Use:   "logcli",
		Short: "Load Android logcat files and ask questions about them",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newLoadCmd(), newAnalyzeCmd(), newChatCmd(), newStatsCmd(), newClearCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLoadCmd() *cobra.Command {
	var sessionID string
	var maxLines int
	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Parse a logcat file and index it into both stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.ingest.LoadLogs(cmd.Context(), dto.LoadLogsRequest{
				FilePath:  args[0],
				SessionId: sessionID,
				MaxLines:  maxLines,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Session: %s\n", stats.SessionId)
			fmt.Printf("Parsed %d lines (%d unparseable), kept %d after preprocessing\n",
				stats.ParsedCount, stats.FailedCount, stats.ProcessedCount)
			fmt.Printf("Indexed %d vectors", stats.IndexedCount)
			if stats.FailedBatches > 0 {
				fmt.Printf(" (%d batches failed)", stats.FailedBatches)
			}
			fmt.Println()
			if stats.TimeRange.Start != "" {
				fmt.Printf("Time range: %s to %s\n", stats.TimeRange.Start, stats.TimeRange.End)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to load into (default: a new one)")
	cmd.Flags().IntVar(&maxLines, "max-lines", 0, "stop after this many lines (0 = no limit)")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var threadID string
	var sessionID string
	cmd := &cobra.Command{
		Use:   "analyze <question>",
		Short: "Ask one question about a previously loaded session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			a.sessions.SetCurrent(sessionID)

			req := dto.AnalyzeRequest{Query: strings.Join(args, " ")}
			if threadID != "" {
				req.ThreadId = &threadID
			}
			resp, err := a.analysis.Analyze(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("analysis failed: %s", *resp.ErrorMessage)
			}
			fmt.Println(resp.Answer)
			fmt.Fprintf(os.Stderr, "(thread %s)\n", resp.ThreadId)
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "continue an existing conversation thread")
	cmd.Flags().StringVar(&sessionID, "session", "", "log session to analyze")
	cmd.MarkFlagRequired("session")
	return cmd
}

func newChatCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive question loop over a loaded session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			a.sessions.SetCurrent(sessionID)

			fmt.Println("Ask about the loaded logs. Type 'exit' to quit.")
			scanner := bufio.NewScanner(os.Stdin)
			var threadID *string
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				query := strings.TrimSpace(scanner.Text())
				if query == "" {
					continue
				}
				if query == "exit" || query == "quit" {
					return nil
				}

				resp, err := a.analysis.Analyze(context.Background(), dto.AnalyzeRequest{
					Query:    query,
					ThreadId: threadID,
				})
				if err != nil {
					log.Error().Err(err).Msg("Analysis failed")
					continue
				}
				if !resp.Success {
					fmt.Println("Error:", *resp.ErrorMessage)
					continue
				}
				threadID = &resp.ThreadId
				fmt.Println(resp.Answer)
				fmt.Println()
			}
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "log session to analyze")
	cmd.MarkFlagRequired("session")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show counts for a loaded session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.ingest.GetStatistics(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			fmt.Printf("Total logs: %d\n", stats.TotalCount)
			for level, count := range stats.LevelDistribution {
				fmt.Printf("  %s: %d\n", level, count)
			}
			if stats.TimeRange.Start != "" {
				fmt.Printf("Time range: %s to %s\n", stats.TimeRange.Start, stats.TimeRange.End)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: all sessions)")
	return cmd
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session>",
		Short: "Delete a session from both stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.ingest.ClearSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Session %s cleared\n", args[0])
			return nil
		},
	}
}
