package mediainfo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mjc/reencodarr-sub000/internal/runner"
)

// Binary is the executable resolved on PATH.
const Binary = "mediainfo"

// Client runs the mediainfo binary over batches of paths.
type Client struct {
	runner runner.Runner
	logger *slog.Logger
}

// NewClient creates a mediainfo client.
func NewClient(r runner.Runner, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		runner: r,
		logger: logger.With(slog.String("component", "mediainfo")),
	}
}

// Inspect runs mediainfo over the given paths in one invocation and
// returns per-path summaries. Paths mediainfo could not open are simply
// absent from the result; callers treat absence as a per-file failure.
func (c *Client) Inspect(ctx context.Context, paths []string) (map[string]*FileInfo, error) {
	if len(paths) == 0 {
		return map[string]*FileInfo{}, nil
	}

	args := append([]string{"--Output=JSON"}, paths...)
	handle, err := c.runner.Spawn(ctx, Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("spawning mediainfo: %w", err)
	}

	var out strings.Builder
	for line := range handle.Lines() {
		out.WriteString(line)
		out.WriteByte('\n')
	}

	code, err := handle.Wait()
	if err != nil {
		return nil, fmt.Errorf("waiting for mediainfo: %w", err)
	}
	if code != 0 {
		return nil, fmt.Errorf("mediainfo exited %d", code)
	}

	infos, err := Parse([]byte(out.String()))
	if err != nil {
		return nil, err
	}

	c.logger.Debug("inspected batch",
		slog.Int("requested", len(paths)),
		slog.Int("parsed", len(infos)),
	)
	return infos, nil
}
