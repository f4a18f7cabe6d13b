package migrations

// ServiceStatsSchema creates the table the stats persister writes to
var ServiceStatsSchema = &Migration{
	Name: "001_service_stats",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS service_stats (
			time TIMESTAMPTZ NOT NULL,
			proxy_requests BIGINT NOT NULL,
			upstream_errors BIGINT NOT NULL,
			truncations BIGINT NOT NULL,
			cache_hits BIGINT NOT NULL,
			token_exchanges BIGINT NOT NULL,
			token_failures BIGINT NOT NULL,
			trajectories_built BIGINT NOT NULL,
			positions_resolved BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_service_stats_time ON service_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS service_stats;
	`,
}

// DailyStatsView summarizes the counters per day. Counters are cumulative
// since process start, so the daily figure is the largest snapshot of the day.
var DailyStatsView = &Migration{
	Name: "002_service_stats_daily",
	UpSQL: `
		CREATE OR REPLACE VIEW service_stats_daily AS
		SELECT
			date_trunc('day', time) AS day,
			MAX(proxy_requests) AS proxy_requests,
			MAX(upstream_errors) AS upstream_errors,
			MAX(truncations) AS truncations,
			MAX(cache_hits) AS cache_hits,
			MAX(token_exchanges) AS token_exchanges,
			MAX(token_failures) AS token_failures,
			MAX(trajectories_built) AS trajectories_built,
			MAX(positions_resolved) AS positions_resolved
		FROM service_stats
		GROUP BY day;
	`,
	DownSQL: `
		DROP VIEW IF EXISTS service_stats_daily;
	`,
}

// All lists every migration in apply order
func All() []*Migration {
	return []*Migration{
		ServiceStatsSchema,
		DailyStatsView,
	}
}
