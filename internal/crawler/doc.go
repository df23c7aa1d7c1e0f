// Package crawler holds the task model, the collaborator interfaces and the
// Orchestrator that runs one query across every configured source.
package crawler
