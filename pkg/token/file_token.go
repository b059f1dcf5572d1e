package token

import (
	"bytes"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileToken is a Provider for a bearer token which is backed by a file.
// This will lookup the value from the file, and will watch the file for
// changes, and re-read when required.
//
// This is typically used when a sidecar or secret mount rotates the
// bridge credentials on disk without restarting the process.
type FileToken struct {
	mutex   sync.RWMutex
	token   string
	watcher *fsnotify.Watcher
}

func NewFileToken(filename string) (*FileToken, error) {
	value, err := readToken(filename)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fileToken := &FileToken{
		token:   value,
		watcher: watcher,
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if value, err := readToken(filename); err == nil {
						fileToken.mutex.Lock()
						fileToken.token = value
						fileToken.mutex.Unlock()
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	if err := watcher.Add(filename); err != nil {
		watcher.Close()
		return nil, err
	}

	return fileToken, nil
}

func (t *FileToken) Token() string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.token
}

func (t *FileToken) Authorization() string {
	return Bearer(t.Token())
}

// Close stops watching the file.
func (t *FileToken) Close() error {
	return t.watcher.Close()
}

func readToken(filename string) (string, error) {
	value, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(value)), nil
}
