// Package utils provides the download cache and the on-disk event store.
package utils

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
)

var ErrNotFound = errors.New("file not found on server")

// CacheDir is where GetCachedReader keeps downloaded datasets.
var CacheDir = filepath.Join("data", "cache")

type progressWriter struct {
	io.Writer
	total uint64
	last  uint64
	label string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.total += uint64(n)
	if pw.total-pw.last > 5*1024*1024 { // every 5MB
		log.Infof("%s: downloaded %d MB", pw.label, pw.total/1024/1024)
		pw.last = pw.total
	}
	return n, err
}

// DownloadFile downloads url to path through a temp file and an atomic rename.
func DownloadFile(url, path string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Warn("closing response body")
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("path", tmpName).Warn("removing temp file")
		}
	}()

	pw := &progressWriter{Writer: tmpFile, label: filepath.Base(path)}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// GetCacheFileName returns the local file name for url, prefixed by the
// sanitised log prefix so datasets with the same base name do not collide.
func GetCacheFileName(url, logPrefix string) string {
	urlParts := strings.Split(url, "/")
	fileName := urlParts[len(urlParts)-1]

	sanitizedPrefix := strings.Trim(logPrefix, "[]")
	sanitizedPrefix = strings.ReplaceAll(sanitizedPrefix, " ", "_")
	if sanitizedPrefix != "" {
		fileName = sanitizedPrefix + "_" + fileName
	}
	return fileName
}

// GetCachedReader returns a reader for url, going through CacheDir when
// useCache is set.
func GetCachedReader(url string, useCache bool, logPrefix string) (io.ReadCloser, error) {
	if useCache {
		if err := os.MkdirAll(CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
		localPath := filepath.Join(CacheDir, GetCacheFileName(url, logPrefix))

		if _, err := os.Stat(localPath); os.IsNotExist(err) {
			log.Infof("%s downloading %s", logPrefix, url)
			if err := DownloadFile(url, localPath); err != nil {
				return nil, err
			}
		} else {
			log.Debugf("%s using cached file %s", logPrefix, localPath)
		}
		f, err := os.Open(localPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		return f, nil
	}

	log.Infof("%s streaming from %s", logPrefix, url)
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Warn("closing response body")
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	return resp.Body, nil
}
