package shared

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runBody struct {
	ActivityID string   `json:"activity_id" validate:"required"`
	Stages     []string `json:"stages"      validate:"max=6"`
}

type selfValidating struct {
	ok bool
}

func (s selfValidating) Validate() error {
	if s.ok {
		return nil
	}
	return assert.AnError
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr error
		want    runBody
	}{
		{name: "valid", body: `{"activity_id":"act-1","stages":["grade"]}`, want: runBody{ActivityID: "act-1", Stages: []string{"grade"}}},
		{name: "empty body", body: ``, wantErr: ErrEmptyBody},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))

			var got runBody
			err := DecodeJSON(req, &got)

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeJSONMalformed(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"activity_id":`))
	var got runBody
	err := DecodeJSON(req, &got)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmptyBody)
}

func TestDecodeJSONBodyLimit(t *testing.T) {
	t.Parallel()

	big := `{"activity_id":"` + strings.Repeat("a", MaxRequestBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	var got runBody
	assert.Error(t, DecodeJSON(req, &got))
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateRequest(&runBody{ActivityID: "act-1"}))
	assert.Error(t, ValidateRequest(&runBody{}))
	assert.NoError(t, ValidateRequest(selfValidating{ok: true}))
	assert.ErrorIs(t, ValidateRequest(selfValidating{}), assert.AnError)
}
