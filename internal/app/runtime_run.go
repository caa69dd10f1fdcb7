package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("chatgate starting",
		"addr", r.cfg.HTTPAddr,
		"bot_name", r.cfg.BotName,
		"strategy", r.cfg.AuthStrategy,
		"plugin_limit", r.cfg.PluginLimit)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return r.resume.Start(groupCtx)
	})
	group.Go(func() error {
		return r.sweeper.Start(groupCtx)
	})
	group.Go(func() error {
		return r.watcher.Start(groupCtx)
	})
	if r.devchat != nil {
		group.Go(func() error {
			err := r.devchat.Start(groupCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	group.Go(func() error {
		err := r.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func (r *Runtime) Close() error {
	if r.audit == nil {
		return nil
	}
	return r.audit.Close()
}
