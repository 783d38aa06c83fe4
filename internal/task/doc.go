// Package task runs the background side of the service: pools of queue
// consumers that settle deliveries by handler result, a sweeper that fails
// diagnosis sessions stuck in an open state, and a cron scheduler for the
// sweep and the periodic vehicle resync.
package task
