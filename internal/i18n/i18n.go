package i18n

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hidrolabs/aquarelay/internal/common/cnst"

	"github.com/BurntSushi/toml"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Message IDs used by the gateway.
const (
	MsgApology        = "chat.apology"
	MsgStreamRevoked  = "stream.revoked"
	MsgSessionCleared = "session.cleared"
)

// I18n manages internationalization and translations
type I18n struct {
	bundle      *i18n.Bundle
	defaultLang language.Tag
}

// New creates a new I18n instance with the specified default language
func New(defaultLang string) *I18n {
	tag := language.Make(defaultLang)
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	return &I18n{
		bundle:      bundle,
		defaultLang: tag,
	}
}

// LoadTranslations loads translation files from the specified directory
func (i *I18n) LoadTranslations(translationsDir string) error {
	files, err := os.ReadDir(translationsDir)
	if err != nil {
		return fmt.Errorf("failed to read translations directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		if !strings.HasSuffix(file.Name(), ".toml") {
			continue
		}

		filePath := filepath.Join(translationsDir, file.Name())
		if _, err := i.bundle.LoadMessageFile(filePath); err != nil {
			return fmt.Errorf("failed to load %s: %w", filePath, err)
		}
	}

	return nil
}

// MustAddMessages registers messages programmatically, used by tests and as
// a fallback when no translation directory is configured.
func (i *I18n) MustAddMessages(lang string, messages ...*i18n.Message) {
	i.bundle.MustAddMessages(language.Make(lang), messages...)
}

// Translate returns a localized string for the given message ID and language
func (i *I18n) Translate(msgID string, lang string, templateData map[string]interface{}) string {
	tag := language.Make(lang)
	localizer := i18n.NewLocalizer(i.bundle, tag.String(), i.defaultLang.String())

	lc := &i18n.LocalizeConfig{
		MessageID: msgID,
	}

	if len(templateData) > 0 {
		lc.TemplateData = templateData
	}

	msg, err := localizer.Localize(lc)
	if err != nil {
		return msgID // Return original message ID if translation fails
	}

	return msg
}

// TranslateContext returns a localized string using the Gin context's
// language preference
func (i *I18n) TranslateContext(c *gin.Context, msgID string, templateData map[string]interface{}) string {
	lang := c.GetHeader(cnst.XLang)
	if lang == "" {
		lang = i.defaultLang.String()
	}
	return i.Translate(msgID, lang, templateData)
}

// DefaultMessages returns the built-in messages for the given language, used
// when no translation files are shipped alongside the binary.
func DefaultMessages(lang string) []*i18n.Message {
	switch lang {
	case cnst.LangEN:
		return []*i18n.Message{
			{ID: MsgApology, Other: "Sorry, we are having trouble answering right now. An agent will follow up with you shortly."},
			{ID: MsgStreamRevoked, Other: "Your notification stream was closed."},
			{ID: MsgSessionCleared, Other: "Session cleared."},
		}
	default:
		return []*i18n.Message{
			{ID: MsgApology, Other: "Lo sentimos, en este momento no podemos responder. Un agente le atenderá en breve."},
			{ID: MsgStreamRevoked, Other: "Su canal de notificaciones fue cerrado."},
			{ID: MsgSessionCleared, Other: "Sesión eliminada."},
		}
	}
}
