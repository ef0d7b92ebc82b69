/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	model2 "github.com/blnkfinance/ingest/api/model"
	"github.com/blnkfinance/ingest/internal/apierror"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func (a Api) Health(c *gin.Context) {
	if err := a.service.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, model2.Health{Status: "unavailable", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model2.Health{Status: "ok"})
}

func (a Api) EnqueueIngestion(c *gin.Context) {
	var req model2.EnqueueIngestion
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := req.ValidateEnqueueIngestion(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	taskID, err := a.service.Enqueue(c.Request.Context(), req.ToIngestionMessage())
	if err != nil {
		respondError(c, apierror.NewAPIError(apierror.ErrUnavailable, "failed to enqueue ingestion message", err))
		return
	}

	c.JSON(http.StatusCreated, model2.EnqueueResponse{TaskID: taskID})
}

func (a Api) GetDeadLetters(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultPageLimit)
	if err != nil || limit <= 0 || limit > maxPageLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	resp, err := a.service.DeadLetters(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetDeadLetter(c *gin.Context) {
	id, passed := c.Params.Get("message_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id is required. pass message_id in the route /:message_id"})
		return
	}

	resp, err := a.service.DeadLetter(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetCursor(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	state, err := a.service.CursorStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, apierror.NewAPIError(apierror.ErrUnavailable, "failed to read cursor", err))
		return
	}

	c.JSON(http.StatusOK, model2.CursorStatus{
		UserID:           id,
		Cursor:           state.Cursor,
		Exhausted:        state.Exhausted,
		ProcessedThreads: state.Processed,
		ThreadCap:        state.Cap,
	})
}

func (a Api) ResetCursor(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.service.ResetCursor(c.Request.Context(), id); err != nil {
		respondError(c, apierror.NewAPIError(apierror.ErrUnavailable, "failed to reset cursor", err))
		return
	}

	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func respondError(c *gin.Context, err error) {
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
