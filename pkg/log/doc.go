/*
Package log provides structured logging for the synchronization engine
using zerolog. It wraps zerolog with JSON or console output, configurable
levels, and helper functions for component-scoped child loggers.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("engine starting")
	log.Warn("connection queue approaching capacity")
	log.Errorf("snapshot flush failed", err)

Context loggers:

	connLog := log.WithConnectionID(conn.ID)
	connLog.Info().Str("kind", string(conn.Kind)).Msg("connection authenticated")

	docLog := log.WithDocumentKey(key.BucketID, key.Path)
	docLog.Debug().Uint64("seq", seq).Msg("update applied")

# Design

A single package-level Logger is initialized once via Init and read from
every component via WithComponent/WithConnectionID/WithBucket/WithDocumentKey,
which return child loggers carrying the relevant fields on every subsequent
entry. Errors are always logged with .Err(err), never string-concatenated,
so log aggregation can filter and alert on them.
*/
package log
