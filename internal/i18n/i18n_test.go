package i18n

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hidrolabs/aquarelay/internal/common/cnst"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTranslator(t *testing.T) *I18n {
	t.Helper()
	tr := New(cnst.LangES)
	tr.MustAddMessages(cnst.LangES, DefaultMessages(cnst.LangES)...)
	tr.MustAddMessages(cnst.LangEN, DefaultMessages(cnst.LangEN)...)
	return tr
}

func TestTranslateFallsBackToDefaultLanguage(t *testing.T) {
	tr := newTranslator(t)

	es := tr.Translate(MsgApology, cnst.LangES, nil)
	assert.Contains(t, es, "Lo sentimos")

	en := tr.Translate(MsgApology, cnst.LangEN, nil)
	assert.Contains(t, en, "Sorry")

	// unknown language falls back to the default (Spanish)
	fr := tr.Translate(MsgApology, "fr", nil)
	assert.Equal(t, es, fr)
}

func TestTranslateUnknownMessageReturnsID(t *testing.T) {
	tr := newTranslator(t)
	assert.Equal(t, "nope.missing", tr.Translate("nope.missing", cnst.LangES, nil))
}

func TestTranslateContextUsesHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tr := newTranslator(t)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set(cnst.XLang, cnst.LangEN)

	assert.Contains(t, tr.TranslateContext(c, MsgApology, nil), "Sorry")

	c.Request.Header.Del(cnst.XLang)
	assert.Contains(t, tr.TranslateContext(c, MsgApology, nil), "Lo sentimos")
}

func TestLoadTranslationsFromDir(t *testing.T) {
	dir := t.TempDir()
	es := `[chat.apology]
other = "Disculpe las molestias."
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "es.toml"), []byte(es), 0o644))

	tr := New(cnst.LangES)
	require.NoError(t, tr.LoadTranslations(dir))
	assert.Equal(t, "Disculpe las molestias.", tr.Translate(MsgApology, cnst.LangES, nil))
}

func TestLoadTranslationsMissingDir(t *testing.T) {
	tr := New(cnst.LangES)
	assert.Error(t, tr.LoadTranslations(filepath.Join(t.TempDir(), "missing")))
}
