package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const defaultPostgresImage = "postgres:16-alpine"

// startPostgresContainer runs a throwaway postgres through the Docker CLI on
// a host port chosen by Docker. BOOKING_TEST_PG_IMAGE overrides the image.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	image := os.Getenv("BOOKING_TEST_PG_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}

	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"-P",
		"-e", "POSTGRES_USER=booking",
		"-e", "POSTGRES_PASSWORD=booking",
		"-e", "POSTGRES_DB=booking_test",
		image,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run %s: %w\noutput: %s", image, err, out)
	}
	containerID := strings.TrimSpace(string(out))
	cleanup := func() {
		_ = exec.Command("docker", "stop", containerID).Run()
	}

	hostPort, err := publishedPort(ctx, containerID)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	connStr := fmt.Sprintf("postgres://booking:booking@%s/booking_test?sslmode=disable", hostPort)
	if err := waitForPostgres(ctx, connStr, 30*time.Second); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("wait for postgres: %w", err)
	}
	return connStr, cleanup, nil
}

// publishedPort asks Docker which host address 5432 was mapped to.
func publishedPort(ctx context.Context, containerID string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "port", containerID, "5432/tcp").Output()
	if err != nil {
		return "", fmt.Errorf("docker port: %w", err)
	}
	// One line per address family; the first is enough.
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	_, port, ok := strings.Cut(line, ":")
	if !ok || port == "" {
		return "", fmt.Errorf("unexpected docker port output %q", out)
	}
	return "127.0.0.1:" + port, nil
}

// waitForPostgres retries a single connection until the server accepts
// queries. The image restarts postgres once during init, so one successful
// dial is not proof of readiness; a query is.
func waitForPostgres(ctx context.Context, connStr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for {
		conn, err := pgx.Connect(ctx, connStr)
		if err == nil {
			var one int
			err = conn.QueryRow(ctx, "SELECT 1").Scan(&one)
			_ = conn.Close(ctx)
			if err == nil {
				return nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", timeout, lastErr)
		case <-time.After(500 * time.Millisecond):
		}
	}
}
