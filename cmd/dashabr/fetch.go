package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"dashabr/internal/queue"
	"dashabr/internal/session"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var fetchOutput string

var fetchCmd = &cobra.Command{
	Use:   "fetch <stream>",
	Short: "Fetch one stream adaptively and write it to a file",
	Long: `Run a single session for the named stream and write every segment, in
order, to the output file (or stdout with -o -). A summary of the session is
printed to stderr when it ends.

Examples:
  dashabr fetch monster -o monster.mp4
  dashabr --media-server-url http://media:9999 fetch trailer -o - | ffplay -`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "-", "output file, - for stdout")
	fetchCmd.Flags().Int("queue-capacity", 8, "segments buffered between fetcher and writer")
}

type fetchSummary struct {
	segments int
	bytes    int64
	switches int
	perTrack int
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.manager.StopAll()
	stream := args[0]

	var out io.Writer = os.Stdout
	if fetchOutput != "-" {
		f, err := os.Create(fetchOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := fetchStream(ctx, a.manager, stream, a.cfg.QueueCapacity, out)
	if summary != nil {
		fmt.Fprintf(os.Stderr, "%s: %d items, %d bytes, %d track switches, %d segments per track\n",
			stream, summary.segments, summary.bytes, summary.switches, summary.perTrack)
	}
	return err
}

// fetchStream runs one session for stream and copies its output to out.
// The session is bound to the group context, so a failing writer stops the
// producer as well.
func fetchStream(ctx context.Context, mgr *session.Manager, stream string, capacity int, out io.Writer) (*fetchSummary, error) {
	g, gctx := errgroup.WithContext(ctx)

	q := queue.New(capacity)
	sess, err := mgr.Start(gctx, stream, q)
	if err != nil {
		return nil, err
	}

	summary := &fetchSummary{}
	g.Go(func() error {
		defer sess.Stop()
		return writeStream(gctx, q, out, summary)
	})
	g.Go(func() error {
		err := sess.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	err = g.Wait()

	summary.switches = sess.Switches()
	summary.perTrack = sess.Manifest.NumSegments()
	return summary, err
}

// writeStream copies queue items to w until the end-of-stream marker.
func writeStream(ctx context.Context, q *queue.Queue, w io.Writer, summary *fetchSummary) error {
	for {
		item, err := q.Take(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if item.IsEndOfStream() {
			return item.Err
		}
		n, err := w.Write(item.Data)
		summary.segments++
		summary.bytes += int64(n)
		if err != nil {
			return fmt.Errorf("failed to write segment: %w", err)
		}
	}
}
