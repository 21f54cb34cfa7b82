package metrics

import "database/sql"

// UpdateDBPoolStats publishes a snapshot of the pool shared by question_cache
// and chat_history queries.
func UpdateDBPoolStats(stats sql.DBStats) {
	DBConnectionPoolSize.WithLabelValues("open").Set(float64(stats.OpenConnections))
	DBConnectionPoolSize.WithLabelValues("active").Set(float64(stats.InUse))
	DBConnectionPoolSize.WithLabelValues("idle").Set(float64(stats.Idle))
	DBConnectionPoolSize.WithLabelValues("max").Set(float64(stats.MaxOpenConnections))
	DBWaitCount.Set(float64(stats.WaitCount))
	DBWaitSeconds.Set(stats.WaitDuration.Seconds())
}
