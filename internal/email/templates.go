package email

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// ConfirmationEmailHTML returns the HTML body for a double opt-in confirmation email.
func ConfirmationEmailHTML(appName, confirmURL string) string {
	appName = html.EscapeString(appName)
	confirmURL = html.EscapeString(confirmURL)
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Confirm your subscription</title>
</head>
<body style="margin:0;padding:0;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;background-color:#f4f5f7;">
<table width="100%%" cellpadding="0" cellspacing="0" style="background-color:#f4f5f7;padding:40px 0;">
<tr><td align="center">
<table width="480" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:8px;overflow:hidden;box-shadow:0 2px 8px rgba(0,0,0,0.08);">
  <tr><td style="padding:32px 40px 24px;text-align:center;">
    <h1 style="margin:0;font-size:24px;color:#1a1a2e;">Confirm your subscription</h1>
  </td></tr>
  <tr><td style="padding:0 40px;">
    <p style="margin:0 0 24px;font-size:15px;color:#4a4a68;line-height:1.6;">
      Thanks for subscribing to the <strong>%s</strong> newsletter! Please confirm your email address to start receiving updates.
    </p>
  </td></tr>
  <tr><td style="padding:0 40px 24px;text-align:center;">
    <a href="%s" style="display:inline-block;background-color:#6c63ff;color:#ffffff;text-decoration:none;font-weight:bold;border-radius:6px;padding:14px 32px;">Confirm subscription</a>
  </td></tr>
  <tr><td style="padding:0 40px 32px;">
    <p style="margin:0;font-size:13px;color:#8888a0;line-height:1.5;">
      If you didn't subscribe, you can safely ignore this email. You won't be added to the list.
    </p>
  </td></tr>
  <tr><td style="padding:16px 40px;background-color:#f9f9fc;border-top:1px solid #eeeef2;">
    <p style="margin:0;font-size:12px;color:#aaaabc;text-align:center;">
      &copy; %s &mdash; This is an automated message, please do not reply.
    </p>
  </td></tr>
</table>
</td></tr>
</table>
</body>
</html>`, appName, confirmURL, appName)
}

// ConfirmationEmailText returns the plain-text body for a double opt-in confirmation email.
func ConfirmationEmailText(appName, confirmURL string) string {
	return fmt.Sprintf(`Confirm your subscription

Thanks for subscribing to the %s newsletter! Open the link below to confirm your email address:

%s

If you didn't subscribe, you can safely ignore this email. You won't be added to the list.

- %s`, appName, confirmURL, appName)
}

// TestEmailText returns the body of the operator's provider check email.
func TestEmailText(appName string) string {
	return fmt.Sprintf(`This is a test email from %s.

If you are reading this, the delivery provider is configured correctly.`, appName)
}

// WithOpenPixel appends a 1x1 tracking image pointing at pixelURL to an HTML body
func WithOpenPixel(body, pixelURL string) string {
	img := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none;">`, html.EscapeString(pixelURL))
	if i := strings.LastIndex(strings.ToLower(body), "</body>"); i >= 0 {
		return body[:i] + img + body[i:]
	}
	return body + img
}

var hrefPattern = regexp.MustCompile(`(?i)(<a\s[^>]*?href\s*=\s*)"(https?://[^"]+)"`)

// RewriteLinks replaces the target of every absolute http(s) anchor in an
// HTML body with rewrite(target). Targets are passed unescaped and the
// result is escaped back into the attribute.
func RewriteLinks(body string, rewrite func(target string) string) string {
	return hrefPattern.ReplaceAllStringFunc(body, func(match string) string {
		parts := hrefPattern.FindStringSubmatch(match)
		target := html.UnescapeString(parts[2])
		return parts[1] + `"` + html.EscapeString(rewrite(target)) + `"`
	})
}
