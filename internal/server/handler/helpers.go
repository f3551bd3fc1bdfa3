package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/pollmarket/internal/domain"
	"github.com/alanyoungcy/pollmarket/internal/server/middleware"
)

const (
	maxBodyBytes = 64 << 10

	defaultPageSize = 50
	maxPageSize     = 500
)

// errorStatus maps domain sentinels to a status and client-facing message.
// An empty message means the error text itself is safe to return.
var errorStatus = []struct {
	target error
	status int
	msg    string
}{
	{domain.ErrValidation, http.StatusBadRequest, ""},
	{domain.ErrNotFound, http.StatusNotFound, "not found"},
	{domain.ErrAlreadyResolved, http.StatusConflict, "poll already resolved"},
	{domain.ErrPollInactive, http.StatusConflict, "poll is not accepting predictions"},
	{domain.ErrPollExpired, http.StatusConflict, "poll has expired"},
	{domain.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient points"},
	{domain.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate limit exceeded"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service error onto its HTTP status. Anything
// unrecognised is logged with the request ID and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	for _, e := range errorStatus {
		if !errors.Is(err, e.target) {
			continue
		}
		msg := e.msg
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, e.status, msg)
		return
	}

	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("request_id", middleware.RequestID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

// decodeJSON reads a size-capped JSON body into v, rejecting unknown fields
// and trailing data.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: unexpected trailing data")
	}
	return nil
}

// parseListOpts reads limit and offset from the query string. Missing values
// default to 50 and 0; limit is capped at 500. Malformed or negative values
// are rejected.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: defaultPageSize}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, fmt.Errorf("limit must be a positive integer, got %q", v)
		}
		opts.Limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("offset must be a non-negative integer, got %q", v)
		}
		opts.Offset = n
	}
	return opts, nil
}

func handlerLogger(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("handler", name))
}
