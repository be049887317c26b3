package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	h(c)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestResponses(t *testing.T) {
	tests := []struct {
		name       string
		handler    gin.HandlerFunc
		wantStatus int
		wantCode   string
	}{
		{name: "success", handler: func(c *gin.Context) { Success(c, gin.H{"ok": true}) }, wantStatus: http.StatusOK},
		{name: "created", handler: func(c *gin.Context) { Created(c, gin.H{"id": "b-1"}) }, wantStatus: http.StatusCreated},
		{name: "bad request", handler: func(c *gin.Context) { BadRequest(c, "bad") }, wantStatus: http.StatusBadRequest, wantCode: CodeValidation},
		{name: "not found", handler: func(c *gin.Context) { NotFound(c, "missing") }, wantStatus: http.StatusNotFound, wantCode: CodeNotFound},
		{name: "internal", handler: InternalError, wantStatus: http.StatusInternalServerError, wantCode: CodeInternal},
		{name: "unauthorized", handler: func(c *gin.Context) { Unauthorized(c, "no token") }, wantStatus: http.StatusUnauthorized, wantCode: CodeUnauthorized},
		{name: "forbidden", handler: func(c *gin.Context) { Forbidden(c, "admins only") }, wantStatus: http.StatusForbidden, wantCode: CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := render(t, tt.handler)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode == "" {
				assert.True(t, resp.Success)
				assert.Nil(t, resp.Error)
				return
			}
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestError_Details(t *testing.T) {
	_, resp := render(t, func(c *gin.Context) {
		Error(c, http.StatusConflict, CodeConflict, "car already booked", gin.H{"booking_id": "b-9"})
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeConflict, resp.Error.Code)
	assert.Equal(t, map[string]interface{}{"booking_id": "b-9"}, resp.Error.Details)
}

func TestPaginated(t *testing.T) {
	_, resp := render(t, func(c *gin.Context) { Paginated(c, []string{"a"}, 2, 10, 11) })
	require.NotNil(t, resp.Meta)
	assert.Equal(t, Meta{Page: 2, PageSize: 10, Total: 11}, *resp.Meta)
}
