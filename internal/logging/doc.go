// Package logging provides structured logging for ork-coord.
//
// This package wraps Go's log/slog to provide JSON-formatted logs of every
// coordination decision. Hook invocations are short-lived processes, so the log
// file in the coordination directory is the only place where the history of
// grants, denials and reaper sweeps across instances can be reconstructed.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/repo/.claude/coordination", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithInstance("repo-main-0312-1405-a1b2").Info("lock acquired", "path", "src/x.ts")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"lock acquired","instance_id":"repo-main-0312-1405-a1b2","path":"src/x.ts"}
//
// # Log Rotation
//
// coord.log is rotated by size ([RotatingWriter]). Rotated files are named
// coord.log.1, coord.log.2, where .1 is the most recent backup; with
// compression enabled they become coord.log.1.gz. Every process of a project
// appends to the same file, so rotation is serialized through coord.log.lock
// and writers follow the file to its new inode after another process rotates.
//
// # Terminal Mirror
//
// With [Options.Mirror] set, every record is also written in a compact text
// form through [TTYHandler], colorized when the writer is a terminal.
//
// # Testing
//
// Use [NopLogger] to discard all log output.
package logging
