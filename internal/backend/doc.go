// Package backend defines the execution backend contract: a queue of jobs run
// by registered work functions, with per-state registries that report each
// job's lifecycle as a single JobState. Memory is the in-process implementation.
package backend
