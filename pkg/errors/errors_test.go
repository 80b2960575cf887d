package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneAndWrapMatchPredefined(t *testing.T) {
	busy := Clone(ErrRunInProgress, "a scheduling run is already in progress for term 2024-1")
	assert.True(t, errors.Is(busy, ErrRunInProgress))
	assert.False(t, errors.Is(busy, ErrRunCancelled))
	assert.Equal(t, "a scheduling run is already in progress for term 2024-1", busy.Message)
	assert.Equal(t, "a scheduling run is already in progress for this term", ErrRunInProgress.Message)

	wrapped := fmt.Errorf("handle job: %w", Wrap(sql.ErrConnDone, ErrInternal.Code, ErrInternal.Status, "failed to load term"))
	assert.True(t, errors.Is(wrapped, ErrInternal))
	assert.True(t, errors.Is(wrapped, sql.ErrConnDone))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	appErr := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Equal(t, "internal server error: boom", appErr.Error())

	notFound := Clone(ErrNotFound, "term not found")
	assert.Same(t, notFound, FromError(fmt.Errorf("lookup: %w", notFound)))
}
