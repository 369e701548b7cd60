package mail

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"
)

// Substitute replaces every {{key}} in tmpl with the HTML-escaped value
// from data.  Unknown placeholders are left as they are.
func Substitute(tmpl string, data map[string]string) string {
	if len(data) == 0 {
		return tmpl
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", html.EscapeString(data[k]))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// FormatHTML wraps a fragment in a minimal document.  Full documents pass
// through unchanged.
func FormatHTML(body string) string {
	if strings.Contains(body, "<body") {
		return body
	}
	return `<!DOCTYPE html>
<html>
<body style="margin:0;padding:20px;background-color:#ffffff;color:#000000;font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;">
  <div style="color:#000000;line-height:1.6;">
` + body + `
  </div>
</body>
</html>`
}

// Brand is the sender identity shown in the branded layout.
type Brand struct {
	Name string
	URL  string
}

// Wrap places content inside the branded card layout.
func (b Brand) Wrap(content string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#f6f9fc;color:#0f172a;font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;">
  <table width="100%%" cellpadding="0" cellspacing="0" style="background-color:#f6f9fc;">
    <tr><td align="center" style="padding:40px 0;">
      <table width="480" cellpadding="0" cellspacing="0" style="width:480px;max-width:480px;background-color:#ffffff;border-radius:16px;overflow:hidden;">
        <tr><td style="padding:32px;">
          <p style="margin:0;font-size:20px;font-weight:700;letter-spacing:0.6px;color:#023e84;text-transform:uppercase;">%s</p>
        </td></tr>
        <tr><td align="left" style="padding:0 32px 28px 32px;">
          <div style="font-size:16px;line-height:1.75;color:#334155;">%s</div>
        </td></tr>
        <tr><td style="padding:0 32px;"><div style="height:1px;background-color:#e2e8f0;"></div></td></tr>
        <tr><td align="center" style="padding:20px 32px 28px 32px;">
          <p style="margin:0 0 10px 0;font-size:14px;color:#475569;">Need help? Visit <a href="%s" style="color:#0284c7;text-decoration:none;font-weight:600;">%s</a></p>
          <p style="margin:0;font-size:12px;color:#94a3b8;">&copy; %d %s</p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`,
		html.EscapeString(b.Name), content, html.EscapeString(b.URL), html.EscapeString(b.Name),
		time.Now().Year(), html.EscapeString(b.Name))
}

// Button renders a call-to-action link styled as a button.
func Button(text, url string) string {
	return fmt.Sprintf(`<table align="center" width="100%%" border="0" cellpadding="0" cellspacing="0" role="presentation">
  <tr><td align="center" style="padding-bottom:32px;">
    <a href="%s" target="_blank" style="display:inline-block;padding:14px 32px;font-size:16px;font-weight:600;color:#ffffff;background-color:#0248a3;text-decoration:none;border-radius:12px;">%s</a>
  </td></tr>
</table>`, html.EscapeString(url), html.EscapeString(text))
}

// OTPBody renders the sign-in code message.
func (b Brand) OTPBody(name, code string, expiresMin int) string {
	if name == "" {
		name = "Voter"
	}
	content := fmt.Sprintf(`<p style="margin-bottom:24px;">Hello, <strong>%s</strong></p>
<p style="color:#64748b;font-size:15px;margin-bottom:32px;">We received a request to sign in to the ballot. Use this code to continue:</p>
<div style="background-color:#f1f5f9;border-radius:12px;padding:24px;text-align:center;margin-bottom:32px;border:1px dashed #cbd5e1;">
  <span style="font-family:'Courier New',monospace;font-size:32px;font-weight:700;color:#0f172a;letter-spacing:8px;display:block;">%s</span>
</div>
%s
<p style="color:#64748b;font-size:14px;margin-bottom:0;">This code expires in <strong>%d minutes</strong>.<br>If this wasn't you, ignore this email.</p>`,
		html.EscapeString(name), html.EscapeString(code), Button("Open the ballot", b.URL), expiresMin)
	return b.Wrap(content)
}

// BroadcastBody renders an announcement: the operator's template with
// data substituted, plus an optional call-to-action button.
func (b Brand) BroadcastBody(tmpl string, data map[string]string, ctaText, ctaURL string) string {
	content := Substitute(tmpl, data)
	if ctaText != "" && ctaURL != "" {
		content += "\n" + Button(ctaText, ctaURL)
	}
	return b.Wrap(content)
}

// OTPSubject is the subject line of sign-in code mail.
func (b Brand) OTPSubject() string { return "[" + b.Name + "] Your sign-in code" }
