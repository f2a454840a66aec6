// Package watcher reports record files dropped into an inbox directory.
//
// Inbox uses fsnotify and falls back to polling the directory listing where
// fsnotify is unavailable (network mounts, some container volumes). Changes
// are debounced so a file is reported once its producer has gone quiet, and
// only finished record files (.jsonl, .ndjson, optionally .gz or .zst) are
// reported.
//
// Usage:
//
//	w, err := watcher.NewInbox(watcher.DefaultOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	go func() { _ = w.Start(ctx, inboxDir) }()
//
//	for batch := range w.Events() {
//	    for _, event := range batch {
//	        if event.Operation == watcher.OpCreate || event.Operation == watcher.OpModify {
//	            // ingest filepath.Join(inboxDir, event.Path)
//	        }
//	    }
//	}
package watcher
