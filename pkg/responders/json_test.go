package responders

import (
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusCreated, map[string]string{"url": "https://checkout.stripe.com/c/pay?a=1&b=2"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"url":"https://checkout.stripe.com/c/pay?a=1&b=2"}`, w.Body.String())
	assert.Contains(t, w.Body.String(), "&b=2", "ampersands are not escaped")
}

func TestJSON_NilPayload(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusNoContent, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHTML(t *testing.T) {
	tmpl := template.Must(template.New("t").Parse(`<p>{{.}}</p>`))
	w := httptest.NewRecorder()
	require.NoError(t, HTML(w, http.StatusOK, tmpl, "<b>"))
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "<p>&lt;b&gt;</p>", w.Body.String())
}

func TestHTML_TemplateError(t *testing.T) {
	tmpl := template.Must(template.New("t").Parse(`{{.Missing.Field}}`))
	w := httptest.NewRecorder()
	assert.Error(t, HTML(w, http.StatusOK, tmpl, struct{ Missing *struct{ Field string } }{}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
