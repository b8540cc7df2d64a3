// Package log provides structured logging for cloudcom built on zerolog.
//
// Init configures the global logger once at process start; components take
// child loggers via WithComponent/WithWorkerID so every line carries the
// emitting subsystem and node identity.
package log
