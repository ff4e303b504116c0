package emailsvc

import (
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trezcool/kitabu/core"
	logsvc "github.com/trezcool/kitabu/services/logger"
)

func testConf() *core.Config {
	return &core.Config{
		AppName:          "Kitabu",
		TestMode:         true,
		FrontendBaseURL:  "http://kitabu.test",
		DefaultFromEmail: mail.Address{Name: "Kitabu", Address: "noreply@kitabu.test"},
	}
}

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	conf := testConf()
	svc := NewConsoleServiceMock(conf, logsvc.NewRollbarLogger(zap.NewNop(), conf))

	to := []mail.Address{{Name: "awe", Address: "awe@test.cd"}}
	svc.SendMessages(
		&core.EmailMessage{To: to, Subject: "Hi", BodyStr: "plain body"},
		&core.EmailMessage{
			To: to, Subject: "Reset", TemplateName: "password_reset",
			TemplateData: map[string]interface{}{"Username": "awe", "UID": "MQ", "Token": "abc-123"},
		},
		&core.EmailMessage{Subject: "nobody to send to", BodyStr: "lost"},
		&core.EmailMessage{To: to, Subject: "unknown", TemplateName: "lol"},
	)

	sent := svc.SentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, "plain body", sent[0].TextContent)
	assert.Empty(t, sent[0].HTMLContent)

	for _, content := range []string{sent[1].TextContent, sent[1].HTMLContent} {
		assert.Contains(t, content, "awe")
		assert.Contains(t, content, "http://kitabu.test/password-reset/MQ/abc-123")
	}

	svc.Reset()
	assert.Empty(t, svc.SentMessages())
}

func TestConsoleService_format(t *testing.T) {
	conf := testConf()
	svc := consoleService{conf: conf, subjPrefix: "[Kitabu] "}

	body, err := svc.format(core.EmailMessage{
		To:          []mail.Address{{Address: "awe@test.cd"}},
		Subject:     "Welcome!",
		TextContent: "hello",
		HTMLContent: "<p>hello</p>",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Subject: [Kitabu] Welcome!\r\n")
	assert.Contains(t, body, "To: <awe@test.cd>\r\n")
	assert.Contains(t, body, "Content-Type: text/html")
	assert.True(t, strings.HasPrefix(body, `From: "Kitabu" <noreply@kitabu.test>`))
}

func TestSendgridService_prepare(t *testing.T) {
	conf := testConf()
	svc := NewSendgridService(conf, logsvc.NewRollbarLogger(zap.NewNop(), conf))

	m := svc.prepare(core.EmailMessage{
		To:          []mail.Address{{Name: "awe", Address: "awe@test.cd"}},
		Bcc:         []mail.Address{{Address: "audit@test.cd"}},
		Subject:     "Welcome!",
		TextContent: "hello",
	})
	require.Len(t, m.Personalizations, 1)
	assert.Equal(t, "[Kitabu] Welcome!", m.Personalizations[0].Subject)
	assert.Len(t, m.Personalizations[0].To, 1)
	assert.Len(t, m.Personalizations[0].BCC, 1)
	require.Len(t, m.Content, 1, "no empty html part")
	assert.Equal(t, "text/plain", m.Content[0].Type)
	assert.Equal(t, "noreply@kitabu.test", m.From.Address)
}
