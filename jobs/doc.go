// Package jobs is the task execution engine. Producers enqueue task
// envelopes onto per-task queues, workers execute registered handlers and
// persist results, and chained envelopes advance stage by stage. Results
// are stored before the next stage is published so a stored result for
// stage n implies results exist for all earlier stages.
package jobs
