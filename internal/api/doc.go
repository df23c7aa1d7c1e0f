// Package api hosts the HTTP surface of the crawl service:
//   - GET /search?q= and POST /v1/search submit a query and return its task id.
//   - GET /result/{task_id} and GET /v1/tasks/{task_id} poll a task.
//   - GET /ws/{task_id} upgrades to the task's live channel.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
