package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iago/storybook-back/internal/apiclient"
)

func newSubmitCommand(opts *options) *cobra.Command {
	var (
		imagePath      string
		story          string
		gender         string
		idempotencyKey string
		wait           bool
		output         string
		interval       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload a photo and start a storybook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(imagePath)
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			cmd.SetContext(ctx)

			client := opts.client()
			jobID, err := client.Submit(ctx, apiclient.SubmitRequest{
				Image:          image,
				Filename:       imagePath,
				Story:          story,
				Gender:         gender,
				IdempotencyKey: idempotencyKey,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobID)
			if !wait {
				return nil
			}

			lastMessage := ""
			status, err := client.Wait(ctx, jobID, interval, func(status apiclient.Status) {
				if status.Message != lastMessage {
					lastMessage = status.Message
					fmt.Fprintf(cmd.ErrOrStderr(), "[%3d%%] %s\n", status.Progress, status.Message)
				}
			})
			if err != nil {
				return err
			}
			if status.State != "done" {
				return errors.New(status.Message)
			}
			if output == "" {
				output = jobID + ".pdf"
			}
			return fetchTo(cmd, client, jobID, output)
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "Path to the child's photo")
	cmd.Flags().StringVar(&story, "story", "lrrh", "Tale: lrrh or jack")
	cmd.Flags().StringVar(&gender, "gender", "boy", "Main character: boy or girl")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Reuse a previous submission with the same key")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the book and download it")
	cmd.Flags().StringVar(&output, "output", "", "Where to save the PDF with --wait (default <job_id>.pdf)")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Status polling interval with --wait")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Print a job's state, progress and message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()

			status, err := opts.client().Status(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "state=%s progress=%d message=%q\n", status.State, status.Progress, status.Message)
			if status.DownloadURL != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "download=%s\n", status.DownloadURL)
			}
			return nil
		},
	}
}

func newFetchCommand(opts *options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <job_id>",
		Short: "Download a finished storybook PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()
			cmd.SetContext(ctx)

			target := output
			if target == "" {
				target = args[0] + ".pdf"
			}
			return fetchTo(cmd, opts.client(), args[0], target)
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Destination file (default <job_id>.pdf, - for stdout)")
	return cmd
}

func newListCommand(opts *options) *cobra.Command {
	var (
		state    string
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List storybook history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd.Context())
			defer cancel()

			list, err := opts.client().ListBooks(ctx, state, page, pageSize)
			if err != nil {
				return err
			}
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "JOB\tSTORY\tSTATE\tPAGES\tTITLE")
			for _, book := range list.Items {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%s\n", book.JobID, book.Story, book.State, book.PageCount, book.Title)
			}
			if err := writer.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %d, %d of %d\n", list.Page, len(list.Items), list.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by state")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Items per page")
	return cmd
}

func fetchTo(cmd *cobra.Command, client *apiclient.Client, jobID, target string) error {
	if target == "-" {
		_, err := client.Download(cmd.Context(), jobID, cmd.OutOrStdout())
		return err
	}

	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".storybook-*.pdf")
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := client.Download(cmd.Context(), jobID, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("save pdf: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (%d bytes)\n", target, written)
	return nil
}

