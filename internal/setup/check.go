package setup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/njoerd114/itemrelay/internal/auth"
	"github.com/njoerd114/itemrelay/internal/remote"
)

const checkTimeout = 10 * time.Second

// CheckServer verifies that serverURL is reachable and that token is accepted.
// It returns the number of items the server currently holds.
func CheckServer(ctx context.Context, serverURL, token string, logger *slog.Logger) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	client := remote.New(serverURL, auth.NewTokenSource(token), logger,
		remote.WithMaxAttempts(1),
		remote.WithHTTPClient(&http.Client{Timeout: checkTimeout}),
	)

	if err := client.Ping(ctx); err != nil {
		return 0, fmt.Errorf("pinging server: %w", err)
	}
	items, err := client.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing items: %w", err)
	}
	return len(items), nil
}
