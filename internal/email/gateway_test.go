package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlehub/newsletter/internal/logger"
)

type stubSender struct {
	sent []Message
	err  error
}

func (s *stubSender) Send(_ context.Context, msg Message) (*Receipt, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sent = append(s.sent, msg)
	return &Receipt{Provider: "stub", MessageID: "m1"}, nil
}

func TestGateway_SendOne(t *testing.T) {
	sender := &stubSender{}
	g := NewGateway(sender, "Test Newsletter", logger.Nop())

	receipt, err := g.SendOne(context.Background(), Message{To: "reader@example.com", Subject: "Hi", TextBody: "Body"})
	require.NoError(t, err)
	assert.Equal(t, "m1", receipt.MessageID)
	require.Len(t, sender.sent, 1)
}

func TestGateway_SendOne_Validation(t *testing.T) {
	sender := &stubSender{}
	g := NewGateway(sender, "Test Newsletter", logger.Nop())

	_, err := g.SendOne(context.Background(), Message{Subject: "Hi", TextBody: "Body"})
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, ErrNoRecipient)

	_, err = g.SendOne(context.Background(), Message{To: "reader@example.com", Subject: "Hi"})
	assert.True(t, IsPermanent(err))
	assert.Empty(t, sender.sent)
}

func TestGateway_SendOne_ClassifiesProviderErrors(t *testing.T) {
	g := NewGateway(&stubSender{err: errors.New("connection reset")}, "Test Newsletter", logger.Nop())

	_, err := g.SendOne(context.Background(), Message{To: "reader@example.com", TextBody: "Body"})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, Transient, de.Kind)
	assert.NotContains(t, de.Error(), "reader@example.com")
}

func TestGateway_SendTest(t *testing.T) {
	sender := &stubSender{}
	g := NewGateway(sender, "Test Newsletter", logger.Nop())

	require.NoError(t, g.SendTest(context.Background(), "ops@example.com"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ops@example.com", sender.sent[0].To)
	assert.True(t, strings.Contains(sender.sent[0].TextBody, "Test Newsletter"))

	failing := NewGateway(&stubSender{err: NewPermanentError("provider_auth", "bad key", nil)}, "Test Newsletter", logger.Nop())
	assert.True(t, IsPermanent(failing.SendTest(context.Background(), "ops@example.com")))
}

type blockingSender struct{}

func (blockingSender) Send(ctx context.Context, _ Message) (*Receipt, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGateway_SendTestTimesOut(t *testing.T) {
	g := NewGateway(blockingSender{}, "Test Newsletter", logger.Nop()).WithSendTimeout(10 * time.Millisecond)

	err := g.SendTest(context.Background(), "ops@example.com")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, "timeout", AsDeliveryError(err).Code)
}

func TestWithOpenPixel(t *testing.T) {
	withBody := WithOpenPixel("<html><BODY><p>x</p></BODY></html>", "https://n.example.org/t/o/cmp_1")
	assert.Equal(t, `<html><BODY><p>x</p><img src="https://n.example.org/t/o/cmp_1" width="1" height="1" alt="" style="display:none;"></BODY></html>`, withBody)

	fragment := WithOpenPixel("<p>x</p>", "https://n.example.org/t/o/cmp_1")
	assert.True(t, strings.HasPrefix(fragment, "<p>x</p><img "))
}

func TestConfirmationTemplates(t *testing.T) {
	link := "https://n.example.org/api/v1/subscribers/confirm?token=abc&x=1"

	html := ConfirmationEmailHTML("Makers <Club>", link)
	assert.Contains(t, html, "Makers &lt;Club&gt;")
	assert.Contains(t, html, "token=abc&amp;x=1")

	text := ConfirmationEmailText("Makers", link)
	assert.Contains(t, text, link)
}

func TestBuildMIME(t *testing.T) {
	raw := buildMIME("News <news@example.org>", Message{To: "r@example.com", Subject: "Hi", TextBody: "plain", HTMLBody: "<p>html</p>"})
	assert.Contains(t, raw, "Content-Type: multipart/alternative")
	assert.Contains(t, raw, "plain")
	assert.Contains(t, raw, "<p>html</p>")

	textOnly := buildMIME("news@example.org", Message{To: "r@example.com", Subject: "Hi", TextBody: "plain"})
	assert.Contains(t, textOnly, "Content-Type: text/plain; charset=UTF-8")
}

func TestRewriteLinks(t *testing.T) {
	body := `<p><a href="https://example.com/post?id=1&amp;ref=mail">Read</a>` +
		` <A class="btn" HREF="http://example.org">Home</A>` +
		` <a href="mailto:ops@example.com">Mail</a> <a href="/relative">Rel</a></p>`

	var seen []string
	out := RewriteLinks(body, func(target string) string {
		seen = append(seen, target)
		return "https://n.example.org/t/c/cmp_1?u=x&s=sig"
	})

	assert.Equal(t, []string{"https://example.com/post?id=1&ref=mail", "http://example.org"}, seen)
	assert.Equal(t, 2, strings.Count(out, `"https://n.example.org/t/c/cmp_1?u=x&amp;s=sig"`))
	assert.Contains(t, out, `<A class="btn" HREF="https://n.example.org/t/c/cmp_1?u=x&amp;s=sig">Home</A>`)
	assert.Contains(t, out, `href="mailto:ops@example.com"`)
	assert.Contains(t, out, `href="/relative"`)
}
