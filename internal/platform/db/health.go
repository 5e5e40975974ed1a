package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 3 * time.Second

type PoolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	// EmptyAcquires counts acquires that had to wait for a connection, the
	// first sign that booking transactions are queueing on the pool.
	EmptyAcquires int64 `json:"empty_acquires"`
}

func GetPoolStats(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		EmptyAcquires: stat.EmptyAcquireCount(),
	}
}

type healthReport struct {
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	SchemaVersion int       `json:"schema_version"`
	LatencyMS     int64     `json:"latency_ms"`
	Pool          PoolStats `json:"pool"`
}

// schemaProbe returns the highest applied migration version. It fails when
// the database is unreachable or has never been migrated.
type schemaProbe func(ctx context.Context) (int, error)

// HealthHandler serves GET /health/db. The check round-trips a query against
// schema_migrations, so a reachable but unmigrated database reports unhealthy.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	probe := func(ctx context.Context) (int, error) {
		var version int
		err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
		return version, err
	}
	return healthHandler(probe, func() PoolStats { return GetPoolStats(pool) })
}

func healthHandler(probe schemaProbe, stats func() PoolStats) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		start := time.Now()
		version, err := probe(ctx)
		report := healthReport{
			Status:        "healthy",
			SchemaVersion: version,
			LatencyMS:     time.Since(start).Milliseconds(),
			Pool:          stats(),
		}

		switch {
		case err != nil:
			report.Status = "unhealthy"
			report.Error = err.Error()
		case version == 0:
			report.Status = "unhealthy"
			report.Error = "no migrations applied"
		}
		if report.Status != "healthy" {
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		return c.JSON(http.StatusOK, report)
	}
}
