// Package pool builds bounded worker pools for blocking work.
//
// A Pool runs at most MaxWorkers tasks at once. Submissions beyond that wait
// in an unbounded FIFO backlog instead of being rejected. Workers are started
// on demand and exit after IdleTimeout without work, so an idle pool shrinks
// back to zero goroutines. Each worker gets a unique, increasing name
// (<prefix>-<n>) that shows up in logs and as a pprof goroutine label.
package pool
