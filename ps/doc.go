// Package ps provides the metadata store: projects and materialized view
// definitions kept in a Git repository.
//
// Every write is a Git commit authored by a core.Identity, so the full
// history of project and view changes is available. Objects are written
// directly through go-git plumbing; the worktree is only synchronized in
// file mode.
//
// # Memory Persistence
//
// For testing or ephemeral instances:
//
//	persistence, err := ps.NewMemoryPersistence()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # File Persistence
//
// For persistent storage, optionally cloned from an upstream repository
// shared by several nodes:
//
//	persistence, err := ps.NewFilePersistence("/path/to/data", &ps.RemoteConfig{URL: gitURL})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = persistence.Pull(ctx) // pick up projects created elsewhere
//
// # Layout
//
//	<project>.project                            project record
//	.commitquery/views/<project>/<name>.json     materialized view definition
package ps
