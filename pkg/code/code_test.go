package code

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_WithDataDoesNotMutateRegistered(t *testing.T) {
	c := ErrorInvalidParams.WithDetails("path is empty").WithData(map[string]string{"path": "required"})

	assert.Equal(t, 400, c.Code())
	assert.True(t, c.HaveData())
	assert.False(t, ErrorInvalidParams.HaveData())
	assert.Empty(t, ErrorInvalidParams.Details())
	assert.True(t, errors.Is(c, ErrorInvalidParams))
	assert.Contains(t, c.Error(), "path is empty")
}

func TestCode_Lang(t *testing.T) {
	defer SetGlobalDefaultLang(LangEN)

	assert.NoError(t, SetGlobalDefaultLang(LangZhCN))
	assert.Equal(t, "文档不存在", ErrorDocumentNotFound.Msg())
	assert.Error(t, SetGlobalDefaultLang("fr"))
	assert.Equal(t, "Document not found", ErrorDocumentNotFound.Msg())

	msg, ok := Lookup(404)
	assert.True(t, ok)
	assert.NotEmpty(t, msg)
}

func TestCode_StatusCode(t *testing.T) {
	assert.Equal(t, 200, Success.StatusCode())
	assert.Equal(t, 404, ErrorDocumentNotFound.StatusCode())
	assert.Equal(t, 404, ErrorNotFoundAPI.StatusCode())
	assert.Equal(t, 429, ErrorTooManyRequests.StatusCode())
	assert.Equal(t, 500, Failed.StatusCode())
	assert.True(t, ErrorInvalidPath.WithDetails("x").HaveDetails())
}
