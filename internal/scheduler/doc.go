// Package scheduler keeps the in-memory registry of named recurring broadcast jobs.
//
// Jobs are keyed by name; registering an existing name replaces the old job.
// Job bodies run on robfig/cron goroutines. Their errors are logged and
// recorded but never disarm the job. Nothing is persisted: custom jobs are
// lost on restart and only the daily job is re-created from config.
package scheduler
