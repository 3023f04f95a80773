package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/profiles"
)

// settleDelay is how long a newly created file must sit unchanged
// before it's submitted, so a syncthing transfer in progress is never
// picked up mid-write. There's no fsnotify "write finished" event, so
// debounce-by-timer is the best available signal.
const settleDelay = 5 * time.Second

// FolderWatcher is the reference inbound-folder daemon: one fsnotify
// watch per mapped folder under root, debounced per file, submitting
// through Submitter once a file looks settled.
type FolderWatcher struct {
	log       *logger.Logger
	root      string
	registry  *profiles.Registry
	submitter Submitter

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewFolderWatcher(log *logger.Logger, root string, registry *profiles.Registry, submitter Submitter) (*FolderWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &FolderWatcher{
		log:       log.With("component", "FolderWatcher"),
		root:      root,
		registry:  registry,
		submitter: submitter,
		watcher:   w,
		pending:   make(map[string]*time.Timer),
	}, nil
}

// Run watches every folder currently present in the registry's
// folder_map and blocks until ctx is cancelled. It does not pick up
// folder_map changes made after Run starts; a restart is required to
// watch newly mapped folders.
func (w *FolderWatcher) Run(ctx context.Context) error {
	for _, folder := range WatchedFolders(w.registry) {
		dir := filepath.Join(w.root, folder)
		if err := w.watcher.Add(dir); err != nil {
			w.log.Warn("folder watcher: cannot watch folder, skipping", "folder", dir, "error", err)
			continue
		}
		w.log.Info("folder watcher: watching", "folder", dir)
	}
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.scheduleSubmit(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("folder watcher: fsnotify error", "error", err)
		}
	}
}

// scheduleSubmit (re)starts the settle timer for path; repeated writes
// to the same path keep pushing the timer out.
func (w *FolderWatcher) scheduleSubmit(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.submit(ctx, path)
	})
}

func (w *FolderWatcher) submit(ctx context.Context, path string) {
	profileID, ok := ResolveProfile(w.registry, path)
	if !ok {
		w.log.Warn("folder watcher: no profile mapped for folder, ignoring file", "path", path)
		return
	}
	if err := w.submitter.SubmitFile(ctx, path, profileID); err != nil {
		w.log.Error("folder watcher: submit failed", "path", path, "profile_id", profileID, "error", err)
		return
	}
	w.log.Info("folder watcher: submitted file", "path", path, "profile_id", profileID)
}
