// Package library keeps external libraries imported in place. A Watcher
// queues library-refresh jobs on a schedule and library-refresh-asset jobs
// for files that change between scans.
package library
