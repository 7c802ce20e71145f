package metrics

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolStats is a driver-neutral snapshot of a connection pool.
type PoolStats struct {
	InUse int
	Idle  int
	Max   int
}

// PgxPoolStats reads the pool of the postgres driver.
func PgxPoolStats(pool *pgxpool.Pool) PoolStats {
	s := pool.Stat()
	return PoolStats{InUse: int(s.AcquiredConns()), Idle: int(s.IdleConns()), Max: int(s.MaxConns())}
}

// SQLPoolStats reads a database/sql pool, as used by the sqlite driver.
func SQLPoolStats(db *sql.DB) PoolStats {
	s := db.Stats()
	return PoolStats{InUse: s.InUse, Idle: s.Idle, Max: s.MaxOpenConnections}
}

// RecordPoolStats publishes s on the db pool gauges.
func RecordPoolStats(s PoolStats) {
	DBPoolConnections.WithLabelValues("in_use").Set(float64(s.InUse))
	DBPoolConnections.WithLabelValues("idle").Set(float64(s.Idle))
	DBPoolConnections.WithLabelValues("max").Set(float64(s.Max))
}
