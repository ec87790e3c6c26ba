package server

import (
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pmkol/sharedlist/pkg/pool"
)

// certReloadDelay debounces bursts of file events, e.g. a cert and key
// written one after the other.
var certReloadDelay = 2 * time.Second

type certWatcher struct {
	ptr atomic.Pointer[tls.Certificate]

	closeOnce sync.Once
	closeC    chan struct{}
	done      chan struct{}
}

func (c *certWatcher) get() *tls.Certificate {
	return c.ptr.Load()
}

func (c *certWatcher) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return c.get(), nil
}

func (c *certWatcher) set(newCert *tls.Certificate) {
	c.ptr.Store(newCert)
}

// Close stops watching and waits for the watcher goroutine to exit.
func (c *certWatcher) Close() error {
	c.closeOnce.Do(func() { close(c.closeC) })
	<-c.done
	return nil
}

func tryCreateWatchCert(certFile string, keyFile string, logger *zap.Logger) (*certWatcher, error) {
	c, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(certFile); err != nil {
		logger.Warn("failed to watch certificate file", zap.String("file", certFile), zap.Error(err))
	}
	if err := watcher.Add(keyFile); err != nil {
		logger.Warn("failed to watch key file", zap.String("file", keyFile), zap.Error(err))
	}

	cc := &certWatcher{
		closeC: make(chan struct{}),
		done:   make(chan struct{}),
	}
	cc.set(&c)

	go func() {
		defer close(cc.done)
		defer watcher.Close()

		timer := time.NewTimer(0)
		pool.StopTimer(timer)
		defer timer.Stop()

		reloadCert := func() {
			newCert, err := tls.LoadX509KeyPair(certFile, keyFile)
			if err != nil {
				logger.Error("failed to reload certificate", zap.String("file", certFile), zap.Error(err))
				return
			}
			cc.set(&newCert)
			logger.Info("certificate reloaded", zap.String("file", certFile))
		}

		needReWatch := false

		for {
			select {
			case <-cc.closeC:
				return

			case e, ok := <-watcher.Events:
				if !ok {
					return
				}
				logger.Debug("certificate file event", zap.String("file", e.Name), zap.Stringer("op", e.Op))

				if e.Has(fsnotify.Chmod) && !e.Has(fsnotify.Write) {
					continue
				}
				// Editors and cert managers replace files by rename, which
				// drops the watch on the old inode.
				if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
					needReWatch = true
				}
				pool.ResetTimer(timer, certReloadDelay)

			case <-timer.C:
				if needReWatch {
					needReWatch = false
					_ = watcher.Remove(certFile)
					_ = watcher.Remove(keyFile)
					if err := watcher.Add(certFile); err != nil {
						logger.Warn("failed to re-watch certificate file", zap.String("file", certFile), zap.Error(err))
					}
					if err := watcher.Add(keyFile); err != nil {
						logger.Warn("failed to re-watch key file", zap.String("file", keyFile), zap.Error(err))
					}
				}
				reloadCert()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("certificate watcher error", zap.Error(err))
			}
		}
	}()

	return cc, nil
}
