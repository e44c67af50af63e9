package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

func TestRespondErrorHidesDenialBehindNotFound(t *testing.T) {
	denied := httptest.NewRecorder()
	RespondError(denied, fmt.Errorf("projects: show: %w", shared.ErrNotAuthorized))
	missing := httptest.NewRecorder()
	RespondError(missing, shared.ErrNotFound)

	assert.Equal(t, http.StatusNotFound, denied.Code)
	assert.Equal(t, missing.Code, denied.Code)
	assert.Equal(t, missing.Body.String(), denied.Body.String())
}

func TestRespondErrorValidationFields(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, shared.NewValidationError("code", "invalid format"))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body ValidationProblem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid format", body.Errors["code"])
}

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := map[error]int{
		shared.ErrHasActiveChildren:          http.StatusConflict,
		ErrDuplicate:                         http.StatusConflict,
		fmt.Errorf("x: %w", ErrUnauthorized): http.StatusUnauthorized,
		shared.ErrValidationFailed:           http.StatusUnprocessableEntity,
		fmt.Errorf("boom"):                   http.StatusInternalServerError,
	}
	for err, status := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, err)
		assert.Equal(t, status, rec.Code, err.Error())
	}
}

func TestJSONFallsBackToProblemWhenUnencodable(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestDecodeJSONRejectsUnknownAndTrailingData(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	ok := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Acme"}`))
	require.NoError(t, DecodeJSON(ok, &target))
	assert.Equal(t, "Acme", target.Name)

	unknown := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Acme","admin":true}`))
	assert.Error(t, DecodeJSON(unknown, &target))

	trailing := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Acme"} {"name":"Evil"}`))
	assert.Error(t, DecodeJSON(trailing, &target))
}
