// Package coordination wires the coordination components for one project.
//
// A Coordinator owns everything a hook process or CLI command needs to take
// part in multi-instance coordination:
//
//   - project detection (work root, common root, branch)
//   - the instance identity resolver
//   - the shared lock/claim store under <common-root>/<coordination-dir>
//   - the event bus and the coordination log
//   - the file lock manager, work claim tracker and session reaper
//
// All worktrees of one repository resolve to the same store, so they exclude
// each other. Each worktree keeps its own identity cache.
//
// Basic usage:
//
//	c, err := coordination.Open(cwd, cfg)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	res := c.Acquire(ctx, "src/main.go", 0)
//	if !res.Allowed() {
//	    // another instance is editing the file
//	}
//
// When coordination.auto_init is false and the store does not exist yet,
// every operation is skipped until Init runs.
package coordination
