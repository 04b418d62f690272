package helpers

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchConfigFile applies log_settings.log_level whenever filename changes,
// until ctx is done. Every other setting needs a restart.
func WatchConfigFile(ctx context.Context, filename string, logger *logrus.Logger) error {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// editors replace the file, so the directory is watched instead
	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return err
	}

	log := logger.WithField("service", "config_watcher")
	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				before := logger.GetLevel()
				if err := applyLogLevel(abs, logger); err != nil {
					log.WithError(err).Warnln("failed to reload config file")
					continue
				}
				if after := logger.GetLevel(); after != before {
					log.Infof("log level changed from %s to %s", before, after)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Errorln("config watcher error")
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Infof("watching %s for log level changes", abs)
	return nil
}
