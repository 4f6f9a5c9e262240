package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	bundle, err := New()
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		fallback string
		want     string
	}{
		{"exact", "es", "", "es"},
		{"regional", "de-AT,de;q=0.9", "", "de"},
		{"weighted", "fr;q=0.9, es;q=0.8", "", "es"},
		{"unsupported uses fallback", "ja", "de", "de"},
		{"empty uses fallback", "", "es", "es"},
		{"nothing matches", "ja", "", "en"},
		{"garbage", "%%%", "", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bundle.Negotiate(tt.header, tt.fallback))
		})
	}
}

func TestLocalizerTranslates(t *testing.T) {
	bundle, err := New()
	require.NoError(t, err)

	es := bundle.Localizer("es")
	assert.Equal(t, "Restablece tu contraseña", es.T("email.reset.subject", nil))
	assert.Equal(t, "Nueva respuesta en el ticket #7: Login", es.T("email.ticket_reply.subject", map[string]any{"Number": 7, "Subject": "Login"}))

	de := bundle.Localizer("de")
	assert.Equal(t, "Kunde", de.T("export.transcript.customer", nil))
}

func TestLocalizerMissingMessage(t *testing.T) {
	bundle, err := New()
	require.NoError(t, err)

	l := bundle.Localizer("de")
	assert.Equal(t, "no.such.message", l.T("no.such.message", nil))

	_, ok := l.Lookup("no.such.message", nil)
	assert.False(t, ok)
}

func TestCatalogsDefineTheSameMessages(t *testing.T) {
	bundle, err := New()
	require.NoError(t, err)

	en := bundle.Localizer("en")
	for _, lang := range []string{"es", "de"} {
		l := bundle.Localizer(lang)
		for _, id := range []string{"email.verify.subject", "email.reset.subject", "error.BOOKING_CONFLICT", "export.transcript.internal"} {
			msg, ok := l.Lookup(id, nil)
			require.True(t, ok, "%s missing %s", lang, id)
			if lang != "en" && id != "export.transcript.title" {
				assert.NotEqual(t, en.T(id, nil), msg, "%s %s not translated", lang, id)
			}
		}
	}
}
