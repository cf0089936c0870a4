package storage

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/afero"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// PhotoExt is the extension of every saved photo.
const PhotoExt = ".jpg"

// PhotoFileName derives a photo file name from t, formatted as
// yyyy-MM-dd-HH-mm-ss-SSS. Two captures in the same millisecond collide.
func PhotoFileName(t time.Time) string {
	return fmt.Sprintf("%s-%03d%s", t.Format("2006-01-02-15-04-05"), t.Nanosecond()/int(time.Millisecond), PhotoExt)
}

// FileURI returns the file:// URI of path, made absolute when possible.
func FileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// Resolver picks the directory photos are written to.
// The preferred location is <MediaDir>/<AppName>; when it cannot be created
// Resolve falls back to the private FilesDir.
type Resolver struct {
	Fs       afero.Fs
	AppName  string
	MediaDir string
	FilesDir string
}

// NewResolver fills empty directories with the XDG defaults: the user's
// pictures directory for media and <data home>/<app> for private files.
func NewResolver(fs afero.Fs, appName, mediaDir, filesDir string) *Resolver {
	if mediaDir == "" {
		mediaDir = xdg.UserDirs.Pictures
	}
	if filesDir == "" {
		filesDir = filepath.Join(xdg.DataHome, appName)
	}
	return &Resolver{
		Fs:       fs,
		AppName:  appName,
		MediaDir: mediaDir,
		FilesDir: filesDir,
	}
}

// Resolve returns the output directory, creating it if needed.
func (r *Resolver) Resolve() (string, error) {
	if r.MediaDir != "" {
		dir := filepath.Join(r.MediaDir, r.AppName)
		err := r.Fs.MkdirAll(dir, 0o755)
		if err == nil {
			if ok, statErr := afero.IsDir(r.Fs, dir); statErr == nil && ok {
				debug.Value("Output directory", dir)
				return dir, nil
			}
			err = fmt.Errorf("%s is not a directory", dir)
		}
		debug.Info("Media directory unavailable, using private storage: %v", err)
	}

	if r.FilesDir == "" {
		return "", errors.New("storage: no media directory and no files directory")
	}
	if err := r.Fs.MkdirAll(r.FilesDir, 0o700); err != nil {
		return "", fmt.Errorf("storage: create files directory: %w", err)
	}
	debug.Value("Output directory", r.FilesDir)
	return r.FilesDir, nil
}
