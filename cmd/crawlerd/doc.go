// Package main hosts the crawlerd entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts a query, records a PENDING task and enqueues it. Clients poll
//     /result/{task_id} for previews or open /ws/{task_id} to receive content as it is stored.
//   - Dispatcher & queue: tasks flow through a bounded in-memory queue sized by tasks.queue_depth and are
//     fanned out to a fixed worker pool sized by tasks.workers. Faulted runs are retried up to
//     tasks.max_attempts.
//   - Orchestrator: each run queries the news, video and social sources concurrently, each under its own
//     timeout. A failing source is logged and skipped. Results are concatenated news, video, social.
//   - Ingestion: raw items are normalized, cleaned, classified and upserted by external id into the content
//     store (Postgres when db.dsn is set). New items can be archived as raw JSON to memory, local disk or GCS.
//   - Plumbing: Viper loads config from a file and CRAWLER_* env vars; zap logs; Prometheus metrics on
//     /metrics; progress events batch into log and Prometheus sinks; completion notices go to Pub/Sub when
//     pubsub.topic_name is set. Task state lives in memory or in Redis.
//
// Quick checklist:
//   - Run locally: go run ./cmd/crawlerd serve --config config.yaml (or rely solely on env overrides).
//   - One-off crawl: go run ./cmd/crawlerd crawl --query "river floods".
//   - Enable video with CRAWLER_SOURCES_VIDEO_ENABLED=true and CRAWLER_VIDEO_API_KEY.
package main
