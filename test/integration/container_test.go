package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ehr/medbridge/internal/platform/db"
)

const defaultPostgresImage = "postgres:16-alpine"

// startPostgresContainer runs a throwaway Postgres through the Docker CLI,
// publishing 5432 on an ephemeral loopback port. MEDBRIDGE_TEST_IMAGE
// overrides the image.
func startPostgresContainer(ctx context.Context) (string, func(), error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return "", nil, errors.New("docker not found in PATH")
	}
	image := os.Getenv("MEDBRIDGE_TEST_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}

	out, err := exec.CommandContext(ctx, "docker", "run", "-d", "--rm",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=medbridge",
		"-e", "POSTGRES_PASSWORD=medbridge",
		"-e", "POSTGRES_DB=medbridge",
		image,
	).CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("docker run %s: %w: %s", image, err, strings.TrimSpace(string(out)))
	}
	containerID := strings.TrimSpace(string(out))
	stop := func() {
		_ = exec.Command("docker", "stop", containerID).Run()
	}

	hostPort, err := publishedPort(ctx, containerID)
	if err != nil {
		stop()
		return "", nil, err
	}

	connStr := fmt.Sprintf("postgres://medbridge:medbridge@%s/medbridge?sslmode=disable", hostPort)
	if err := waitForPostgres(ctx, connStr, 30*time.Second); err != nil {
		stop()
		return "", nil, err
	}
	return connStr, stop, nil
}

// publishedPort asks docker which host address 5432 was bound to.
func publishedPort(ctx context.Context, containerID string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", "port", containerID, "5432/tcp").Output()
	if err != nil {
		return "", fmt.Errorf("docker port: %w", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.HasPrefix(line, "127.0.0.1:") {
			return strings.TrimSpace(line), nil
		}
	}
	return "", fmt.Errorf("no loopback binding in %q", string(out))
}

// waitForPostgres polls until the server answers a ping. The image restarts
// postgres once during init, so a single successful dial is not enough.
func waitForPostgres(ctx context.Context, connStr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	ready := 0
	var lastErr error
	for {
		pool, err := db.NewPool(ctx, connStr, 2, 0)
		if err == nil {
			pool.Close()
			ready++
			if ready == 2 {
				return nil
			}
		} else {
			ready = 0
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %s: %v", timeout, lastErr)
		case <-ticker.C:
		}
	}
}
