package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
	}
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status  string     `json:"status"`
	Backend string     `json:"backend"`
	Error   string     `json:"error,omitempty"`
	Pool    *PoolStats `json:"pool,omitempty"`
}

// HealthHandler reports whether the row store answers. check is run with a
// five second deadline; pool, when non-nil, adds Postgres pool statistics.
func HealthHandler(backend string, check func(context.Context) error, pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "healthy", Backend: backend}
		err := check(ctx)
		if pool != nil {
			if perr := pool.Ping(ctx); err == nil {
				err = perr
			}
			resp.Pool = GetPoolStats(pool)
		}

		if err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
