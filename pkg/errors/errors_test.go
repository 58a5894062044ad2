package errors

import (
	"fmt"
	"net/http"
	"testing"

	"callmesh/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKnownSentinels(t *testing.T) {
	code, status := Classify(domain.ErrAlreadyInCall)
	assert.Equal(t, CodeAlreadyInCall, code)
	assert.Equal(t, http.StatusConflict, status)

	code, status = Classify(domain.ErrDeviceUnavailable)
	assert.Equal(t, CodeDeviceUnavailable, code)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestClassifyWrapped(t *testing.T) {
	wrapped := fmt.Errorf("publish: %w", domain.ErrAuthExpired)
	code, status := Classify(wrapped)
	assert.Equal(t, CodeAuthExpired, code)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestClassifyUnknown(t *testing.T) {
	code, status := Classify(fmt.Errorf("boom"))
	assert.Equal(t, CodeInternal, code)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestToResponseHidesInternals(t *testing.T) {
	resp, status := ToResponse(fmt.Errorf("secret db string"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal error", resp.Message)

	resp, status = ToResponse(domain.ErrNoActiveCall)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeNoActiveCall, resp.Code)
}
