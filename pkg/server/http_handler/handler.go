/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 */

package http_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pmkol/sharedlist/pkg/cache"
	"github.com/pmkol/sharedlist/pkg/queue"
	"github.com/pmkol/sharedlist/pkg/registry"
	"github.com/pmkol/sharedlist/pkg/selector"
)

var nopLogger = zap.NewNop()

const (
	defaultMaxBodySize = 1 << 20
	defaultMaxWait     = 30 * time.Second
	defaultCacheTTL    = 300
	maxCacheTTL        = 30 * 24 * 3600
)

type HandlerOpts struct {
	// Queues is required.
	Queues *registry.Registry

	// Cache backs the /cache endpoints. Optional.
	Cache cache.Backend

	// MaxBodySize limits pushed items and cached values. Default 1MiB.
	MaxBodySize int64

	// MaxWait caps the wait parameter of blocking pops. Default 30s.
	MaxWait time.Duration

	HealthPath string
	Logger     *zap.Logger
}

func (opts *HandlerOpts) Init() error {
	if opts.Queues == nil {
		return errors.New("nil queue registry")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/health"
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = defaultMaxWait
	}
	return nil
}

type Handler struct {
	opts HandlerOpts
	mux  *http.ServeMux
}

func NewHandler(opts HandlerOpts) (*Handler, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	h := &Handler{opts: opts, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET "+opts.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	h.mux.HandleFunc("GET /queues", h.listQueues)
	h.mux.HandleFunc("GET /queues/{name}", h.queueInfo)
	h.mux.HandleFunc("DELETE /queues/{name}", h.deleteQueue)
	h.mux.HandleFunc("GET /queues/{name}/items", h.snapshot)
	h.mux.HandleFunc("DELETE /queues/{name}/items", h.removeItems)
	h.mux.HandleFunc("POST /queues/{name}/{end}", h.push)
	h.mux.HandleFunc("GET /queues/{name}/{end}", h.peek)
	h.mux.HandleFunc("DELETE /queues/{name}/{end}", h.pop)
	if opts.Cache != nil {
		h.mux.HandleFunc("GET /cache/{key}", h.cacheGet)
		h.mux.HandleFunc("PUT /cache/{key}", h.cacheStore)
	}
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.mux.ServeHTTP(w, req)
}

func (h *Handler) warnErr(req *http.Request, err error) {
	h.opts.Logger.Warn(err.Error(), zap.String("from", req.RemoteAddr), zap.String("method", req.Method), zap.String("url", req.RequestURI))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func parseEnd(req *http.Request) (string, bool) {
	end := req.PathValue("end")
	return end, end == "front" || end == "back"
}

func (h *Handler) listQueues(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"queues": h.opts.Queues.Names()})
}

func (h *Handler) queueInfo(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	q, err := h.opts.Queues.Lookup(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "len": q.Len()})
}

func (h *Handler) deleteQueue(w http.ResponseWriter, req *http.Request) {
	if err := h.opts.Queues.Delete(req.PathValue("name")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) snapshot(w http.ResponseWriter, req *http.Request) {
	q, err := h.opts.Queues.Lookup(req.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	items := q.Snapshot()
	if items == nil {
		items = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) removeItems(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	q, err := h.opts.Queues.Lookup(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	where := req.URL.Query().Get("where")
	if where == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing where parameter"))
		return
	}
	sel, err := selector.Compile(where)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var evalErr error
	removed := q.RemoveFunc(func(item json.RawMessage) bool {
		ok, err := sel.MatchJSON(item)
		if err != nil && evalErr == nil {
			evalErr = err
		}
		return ok
	})
	if evalErr != nil {
		h.warnErr(req, fmt.Errorf("selector %s: %w", sel, evalErr))
	}
	h.opts.Queues.Removed(name)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) push(w http.ResponseWriter, req *http.Request) {
	end, ok := parseEnd(req)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := req.PathValue("name")
	q, err := h.opts.Queues.Get(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	b, err := io.ReadAll(io.LimitReader(req.Body, h.opts.MaxBodySize+1))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if int64(len(b)) > h.opts.MaxBodySize {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(b) {
		writeError(w, http.StatusBadRequest, errors.New("body is not valid json"))
		return
	}

	item := json.RawMessage(b)
	if end == "front" {
		err = q.PushFront(item)
	} else {
		err = q.Push(item)
	}
	switch {
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusTooManyRequests, err)
		return
	case errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusGone, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.opts.Queues.Pushed(name, end)
	writeJSON(w, http.StatusCreated, map[string]int{"len": q.Len()})
}

func (h *Handler) peek(w http.ResponseWriter, req *http.Request) {
	end, ok := parseEnd(req)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	q, err := h.opts.Queues.Lookup(req.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var item json.RawMessage
	if end == "front" {
		item, ok = q.Peek()
	} else {
		item, ok = q.PeekBack()
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// pop removes one item. DELETE /queues/{name}/front?wait=5s blocks up to
// wait for an item to arrive.
func (h *Handler) pop(w http.ResponseWriter, req *http.Request) {
	end, ok := parseEnd(req)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := req.PathValue("name")

	var wait time.Duration
	if s := req.URL.Query().Get("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid wait %q", s))
			return
		}
		if end != "front" {
			writeError(w, http.StatusBadRequest, errors.New("wait is only supported when popping the front"))
			return
		}
		wait = min(d, h.opts.MaxWait)
	}

	var (
		q   *queue.Queue[json.RawMessage]
		err error
	)
	if wait > 0 {
		// Waiting consumers may arrive before any producer created the queue.
		q, err = h.opts.Queues.Get(name)
	} else {
		q, err = h.opts.Queues.Lookup(name)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var item json.RawMessage
	switch {
	case end == "back":
		item, ok = q.TryPopBack()
	case wait > 0:
		ctx, cancel := context.WithTimeout(req.Context(), wait)
		item, err = q.Pop(ctx)
		cancel()
		ok = err == nil
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, queue.ErrClosed) {
			h.warnErr(req, fmt.Errorf("pop: %w", err))
		}
	default:
		item, ok = q.TryPop()
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.opts.Queues.Popped(name, end)
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) cacheGet(w http.ResponseWriter, req *http.Request) {
	v, storedTime, expire, ok := h.opts.Cache.Get(req.PathValue("key"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Last-Modified", time.Unix(storedTime, 0).UTC().Format(http.TimeFormat))
	if maxAge := expire - time.Now().Unix(); maxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", maxAge))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v)
}

// cacheStore stores the body. ?ttl=<seconds>, default 300, capped at 30 days.
func (h *Handler) cacheStore(w http.ResponseWriter, req *http.Request) {
	ttl := int64(defaultCacheTTL)
	if s := req.URL.Query().Get("ttl"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid ttl %q", s))
			return
		}
		ttl = min(n, maxCacheTTL)
	}

	b, err := io.ReadAll(io.LimitReader(req.Body, h.opts.MaxBodySize+1))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if int64(len(b)) > h.opts.MaxBodySize {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	h.opts.Cache.Store(req.PathValue("key"), b, time.Now().Unix()+ttl)
	w.WriteHeader(http.StatusNoContent)
}
