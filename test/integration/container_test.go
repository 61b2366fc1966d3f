//go:build integration

package integration

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// postgresServer is a throwaway PostgreSQL run through the Docker CLI. Docker
// picks the host port, so parallel test binaries never race for one.
type postgresServer struct {
	id      string
	connStr string
}

func startPostgres(ctx context.Context) (*postgresServer, error) {
	id, err := docker(ctx, "run", "-d", "--rm",
		"--label", "clinic-integration=true",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=clinic",
		"-e", "POSTGRES_PASSWORD=clinic",
		"-e", "POSTGRES_DB=clinictest",
		"postgres:16-alpine",
		// Every test migrates its own schema; durability is irrelevant.
		"-c", "fsync=off",
		"-c", "synchronous_commit=off",
		"-c", "max_connections=300",
	)
	if err != nil {
		return nil, err
	}
	srv := &postgresServer{id: id}

	addr, err := docker(ctx, "port", id, "5432/tcp")
	if err != nil {
		srv.stop()
		return nil, err
	}
	addr, _, _ = strings.Cut(addr, "\n")
	srv.connStr = fmt.Sprintf("postgres://clinic:clinic@%s/clinictest?sslmode=disable", addr)

	if err := srv.waitReady(ctx, 30*time.Second); err != nil {
		srv.stop()
		return nil, err
	}
	return srv, nil
}

// waitReady polls over TCP. The image's init phase only listens on the unix
// socket, so a successful query means the final server is up.
func (s *postgresServer) waitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	var lastErr error
	for {
		conn, err := pgx.Connect(ctx, s.connStr)
		if err == nil {
			var one int
			err = conn.QueryRow(ctx, "SELECT 1").Scan(&one)
			conn.Close(context.Background())
			if err == nil {
				return nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres %s not ready after %s: %w", s.id[:12], timeout, lastErr)
		case <-tick.C:
		}
	}
}

func (s *postgresServer) stop() {
	_, _ = docker(context.Background(), "rm", "-f", s.id)
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w\noutput: %s", args[0], err, out)
	}
	return strings.TrimSpace(string(out)), nil
}
