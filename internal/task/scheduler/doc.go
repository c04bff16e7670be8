// Package scheduler runs scheduled jobs against registered repositories.
//
// The scheduler is responsible for:
//   - polling every repository store for due jobs
//   - guaranteeing at most one execution per job at a time
//   - running the execution pipeline (items, prompts, analyzer sessions)
//   - reconciling abandoned runs and sessions at startup
package scheduler
