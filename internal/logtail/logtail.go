// internal/logtail/logtail.go
package logtail

import (
	"context"
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"
)

// Options controls how a worker log is read.
type Options struct {
	// Follow keeps reading as the worker appends.
	Follow bool
	// Poll uses stat polling instead of inotify.
	Poll bool
}

// Copy writes the lines of path to w until EOF, or until ctx ends when
// following.
func Copy(ctx context.Context, path string, w io.Writer, opts Options, logger *zap.Logger) error {
	log := logger.Named("logtail")
	t, err := tail.TailFile(path, tail.Config{
		Follow:    opts.Follow,
		ReOpen:    opts.Follow,
		Poll:      opts.Poll,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail %s: %w", path, err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Stopping log follow.", zap.String("path", path))
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				log.Warn("Error reading from log file", zap.Error(line.Err))
				continue
			}
			if _, err := fmt.Fprintln(w, line.Text); err != nil {
				return err
			}
		}
	}
}
