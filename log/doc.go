// Package log provides the leveled logging interface shared by every ragbridge adapter.
//
// Adapters accept a Logger through their WithLogger option and fall back to the
// package-level logger otherwise. Batch failures in vector stores, skipped files in
// readers and metadata conversion errors are reported here rather than returned,
// so configure a logger when those paths matter to you.
//
// # Log Levels
//
//   - LogLevelDebug: request and batch level tracing
//   - LogLevelInfo: one line per completed batch or page
//   - LogLevelWarn: recoverable problems such as a skipped file
//   - LogLevelError: partial failures the caller has to reconcile
//   - LogLevelNone: disables all logging output
//
// # Example Usage
//
//	logger := log.NewDefaultLogger(log.LogLevelDebug)
//	store, err := kdbai.New(table, kdbai.WithLogger(logger))
//
// Component prefixes keep mixed output readable:
//
//	logger := log.WithPrefix(log.NewDefaultLogger(log.LogLevelInfo), "kdbai")
//	logger.Info("inserted batch %d", 0) // [ragbridge] [INFO] [kdbai] inserted batch 0
//
// # golog Integration
//
//	glogger := golog.New()
//	glogger.SetPrefix("[MyApp] ")
//
//	logger := log.NewGologLogger(glogger)
//	logger.SetLevel(log.LogLevelDebug)
//	log.SetDefaultLogger(logger)
//
// # Thread Safety
//
// DefaultLogger and GologLogger are safe for concurrent use. SetDefaultLogger is not
// synchronized and should be called during program start-up.
package log
