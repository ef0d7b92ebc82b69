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

package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/blnkfinance/ingest/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	details := errors.New("connection reset")
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Something went wrong", details)

	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, "Something went wrong", apiErr.Message)
	assert.Equal(t, "INTERNAL_SERVER_ERROR: Something went wrong", apiErr.Error())
	assert.ErrorIs(t, apiErr, details)
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"NotFound Error", apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", nil), http.StatusNotFound},
		{"Conflict Error", apierror.NewAPIError(apierror.ErrConflict, "Conflict occurred", nil), http.StatusConflict},
		{"InvalidInput Error", apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid input", nil), http.StatusBadRequest},
		{"Unavailable Error", apierror.NewAPIError(apierror.ErrUnavailable, "Redis down", nil), http.StatusServiceUnavailable},
		{"InternalServerError", apierror.NewAPIError(apierror.ErrInternalServer, "Internal server error", nil), http.StatusInternalServerError},
		{"Wrapped Error", fmt.Errorf("listing: %w", apierror.NewAPIError(apierror.ErrNotFound, "gone", nil)), http.StatusNotFound},
		{"Unknown Error", errors.New("Unknown error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, apierror.MapErrorToHTTPStatus(tt.err))
		})
	}
}
