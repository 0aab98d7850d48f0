package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"deepwiki-proxy/internal/client"
	"deepwiki-proxy/internal/models"
	"deepwiki-proxy/internal/stream"
)

var (
	flagProxy string
	flagToken string
)

func main() {
	root := &cobra.Command{
		Use:           "wikictl",
		Short:         "Control and watch wiki generation jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagProxy, "proxy", envOr("WIKICTL_PROXY", "http://localhost:3000"), "proxy base URL")
	root.PersistentFlags().StringVar(&flagToken, "token", os.Getenv("WIKICTL_TOKEN"), "session bearer token")

	root.AddCommand(
		newCreateCmd(),
		newGetCmd(),
		newListCmd(),
		newControlCmd("pause", "Pause an active job"),
		newControlCmd("resume", "Resume a paused job"),
		newControlCmd("retry", "Retry a failed, partially completed, or cancelled job"),
		newCancelCmd(),
		newDeleteCmd(),
		newWatchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() *client.Client {
	return client.New(flagProxy, flagToken)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func newCreateCmd() *cobra.Command {
	var req models.CreateJobRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Submit a new wiki generation job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			resp, err := newClient().Create(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("created job %s\n", resp.JobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.RepoURL, "repo-url", "", "repository URL (required)")
	cmd.Flags().StringVar(&req.RepoType, "repo-type", "github", "github|gitlab|bitbucket|azure|web|local")
	cmd.Flags().StringVar(&req.Owner, "owner", "", "repository owner")
	cmd.Flags().StringVar(&req.Repo, "repo", "", "repository name")
	cmd.Flags().StringVar(&req.Provider, "provider", "", "model provider")
	cmd.Flags().StringVar(&req.Model, "model", "", "model name")
	cmd.Flags().StringVar(&req.Language, "language", "en", "target language")
	cmd.Flags().BoolVar(&req.IsComprehensive, "comprehensive", false, "generate the comprehensive wiki")
	cmd.Flags().StringVar(&req.Branch, "branch", "", "branch to analyze")
	_ = cmd.MarkFlagRequired("repo-url")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show the current state of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			job, err := newClient().Get(ctx, args[0])
			if err != nil {
				return err
			}
			printJob(job)
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var f models.ListFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			resp, err := newClient().List(ctx, f)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tREPO\tSTATUS\tPROGRESS\tPAGES")
			for _, job := range resp.Jobs {
				fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%.0f%%\t%d/%d\n",
					job.ID, job.Owner, job.Repo, job.Status,
					job.ProgressPercent, job.CompletedPages, job.TotalPages)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Printf("%d of %d jobs\n", len(resp.Jobs), resp.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Owner, "owner", "", "filter by owner")
	cmd.Flags().StringVar(&f.Repo, "repo", "", "filter by repository")
	cmd.Flags().StringVar(&f.Status, "status", "", "filter by status")
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "page offset")
	return cmd
}

func newControlCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			c := newClient()
			var job models.Job
			var err error
			switch action {
			case "pause":
				job, err = c.Pause(ctx, args[0])
			case "resume":
				job, err = c.Resume(ctx, args[0])
			case "retry":
				job, err = c.Retry(ctx, args[0])
			}
			if err != nil {
				return err
			}
			fmt.Printf("job %s is now %s\n", job.ID, job.Status)
			return nil
		},
	}
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel an active job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			job, err := newClient().Cancel(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("job %s is now %s\n", job.ID, job.Status)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Hard-delete a terminal job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			if err := newClient().Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("job %s deleted\n", args[0])
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	var (
		timeout    time.Duration
		retries    int
		retryDelay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Tail a job's progress stream until it reaches a terminal state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			jobID := args[0]
			c := newClient()
			reader := stream.NewReader(&http.Client{}, zerolog.Nop())

			var last models.ProgressEvent
			handlers := stream.ProgressHandlers{
				OnEvent: func(ev models.ProgressEvent) {
					last = ev
					fmt.Printf("[phase %d] %5.1f%% %s %s\n",
						ev.CurrentPhase, ev.ProgressPercent, ev.Status, ev.Message)
				},
				OnError: func(err error) {
					fmt.Fprintln(os.Stderr, "stream error:", err)
				},
				OnClose: func() {
					if last.Status != "" {
						fmt.Printf("stream closed, final status: %s\n", last.Status)
					}
				},
			}

			build := func(ctx context.Context) (*http.Request, error) {
				return c.NewRequest(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/progress/stream", nil)
			}
			return reader.WatchProgress(ctx, build, handlers, stream.Options{
				Timeout:    timeout,
				Retries:    retries,
				RetryDelay: retryDelay,
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "header timeout per attempt")
	cmd.Flags().IntVar(&retries, "retries", 2, "retry attempts after the first")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", time.Second, "delay between attempts")
	return cmd
}

func printJob(job models.Job) {
	fmt.Printf("job:      %s\n", job.ID)
	fmt.Printf("repo:     %s (%s)\n", job.RepoURL, job.RepoType)
	fmt.Printf("status:   %s (phase %d, %.1f%%)\n", job.Status, job.CurrentPhase, job.ProgressPercent)
	fmt.Printf("pages:    %d completed, %d failed, %d total\n", job.CompletedPages, job.FailedPages, job.TotalPages)
	fmt.Printf("tokens:   %d\n", job.TotalTokensUsed)
	if job.ErrorMessage != nil {
		fmt.Printf("error:    %s\n", *job.ErrorMessage)
	}
	if models.CanRetry(job.Status) {
		fmt.Println("hint:     this job can be retried with `wikictl retry`")
	}
}
