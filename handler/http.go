package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/EventStore/EventStore-Client-Go/v3/esdb"
	"github.com/MatejaMaric/esdb-denormalizer/events"
	"github.com/MatejaMaric/esdb-denormalizer/projections"
)

type HttpHandlerContext struct {
	Ctx          context.Context
	Log          *slog.Logger
	EsdbClient   *esdb.Client
	Users        projections.Store[*events.UserView]
	Denormalizer *projections.Denormalizer[*events.UserView]
	Codec        *events.Codec
	Ready        <-chan struct{}
	RebuildLimit int
}

type CustomHttpHandler[T any] func(*HttpHandlerContext, *http.Request) (int, T, error)

func WrapHandler[T any](h *HttpHandlerContext, handler CustomHttpHandler[T]) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		status, res, err := handler(h, r)

		var dataToBeMarshaled any
		if err != nil {
			h.Log.Debug("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
			dataToBeMarshaled = map[string]string{
				"error": err.Error(),
			}
		} else {
			dataToBeMarshaled = res
		}

		data, err := json.Marshal(dataToBeMarshaled)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(data)
	}
}

func NewHttpHandler(hndCtx *HttpHandlerContext) http.Handler {
	if hndCtx.Log == nil {
		hndCtx.Log = slog.Default()
	}

	router := http.NewServeMux()
	router.HandleFunc("GET /", WrapHandler(hndCtx, handleGetUsers))
	router.HandleFunc("POST /", WrapHandler(hndCtx, handleCreateUser))
	router.HandleFunc("PATCH /", WrapHandler(hndCtx, handleUserLogin))
	router.HandleFunc("PUT /email", WrapHandler(hndCtx, handleChangeEmail))
	router.HandleFunc("DELETE /", WrapHandler(hndCtx, handleDeleteUser))
	router.HandleFunc("POST /rebuild", WrapHandler(hndCtx, handleRebuild))
	router.HandleFunc("GET /ready", WrapHandler(hndCtx, handleReady))

	return router
}

func handleReady(h *HttpHandlerContext, req *http.Request) (int, any, error) {
	if h.Ready == nil {
		return http.StatusOK, map[string]bool{"ready": true}, nil
	}

	select {
	case <-h.Ready:
		return http.StatusOK, map[string]bool{"ready": true}, nil
	default:
		return http.StatusServiceUnavailable, map[string]bool{"ready": false}, nil
	}
}
