// Package watch defines the inbound folder watcher's contract with
// the rest of the engine, plus an fsnotify-based reference
// implementation: resolve a dropped file's containing folder to a
// profile id via the registry's folder map, then hand the file to a
// Submitter the same way POST /jobs does.
package watch

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
)

// Submitter is the engine-side half of the contract: given a source
// file path and the profile id resolved for its folder, enqueue a job.
// internal/app wires this to the same store.Store.Enqueue call
// httpapi.JobsHandler.CreateJob uses, enqueuing the watched file's
// own path.
type Submitter interface {
	SubmitFile(ctx context.Context, sourcePath, profileID string) error
}

// Resolver looks up the profile id mapped to an inbound folder name.
// internal/profiles.Registry satisfies this directly.
type Resolver interface {
	GetForFolder(folder string) (string, bool)
}

// ResolveProfile maps a newly seen file's path to the profile id
// responsible for it, using the immediate parent directory name as
// the case-insensitive folder key — the innermost containing watched
// folder wins.
func ResolveProfile(resolver Resolver, sourcePath string) (string, bool) {
	folder := filepath.Base(filepath.Dir(sourcePath))
	return resolver.GetForFolder(strings.ToLower(folder))
}

// WatchedFolders returns the set of folder names currently registered
// in the profile registry's folder map, for a watcher to start
// fsnotify watches on.
func WatchedFolders(registry *profiles.Registry) []string {
	m := registry.FolderMap()
	out := make([]string, 0, len(m))
	for folder := range m {
		out = append(out, folder)
	}
	return out
}
