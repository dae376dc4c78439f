package request

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
)

const maxDetailLen = 2048

var (
	messagePaths = []string{"message", "error.message", "error_description", "error", "detail", "title"}
	codePaths    = []string{"code", "error.code", "errorCode", "error_code"}
)

// describeBody turns a non-2xx response body into an APIError, picking the
// server-provided message and code when the body carries them.
func describeBody(status int, contentType string, body []byte) *APIError {
	apiErr := &APIError{
		Status:  status,
		Code:    CodeHTTPError,
		Message: defaultMessage(status),
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return apiErr
	}

	ct := strings.ToLower(contentType)
	switch {
	case gjson.ValidBytes(trimmed):
		describeJSON(apiErr, trimmed)
	case strings.Contains(ct, "text/html") || looksLikeHTML(trimmed):
		describeHTML(apiErr, trimmed)
	default:
		apiErr.Message = truncate(string(trimmed), 256)
	}
	return apiErr
}

func describeJSON(apiErr *APIError, body []byte) {
	doc := gjson.ParseBytes(body)
	if doc.Type == gjson.String && doc.String() != "" {
		apiErr.Message = doc.String()
		return
	}
	for _, p := range messagePaths {
		if v := doc.Get(p); v.Type == gjson.String && v.String() != "" {
			apiErr.Message = v.String()
			break
		}
	}
	for _, p := range codePaths {
		v := doc.Get(p)
		if !v.Exists() || (v.Type != gjson.String && v.Type != gjson.Number) || v.String() == "" {
			continue
		}
		if !reservedCode(v.String()) {
			apiErr.Code = v.String()
		}
		break
	}
	if doc.IsObject() || doc.IsArray() {
		apiErr.Details = doc.Value()
	}
}

// describeHTML handles proxies and load balancers that answer with an HTML
// error page instead of the API's JSON.
func describeHTML(apiErr *APIError, body []byte) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return
	}
	doc.Find("script, style, noscript").Remove()
	for _, sel := range []string{"head > title", "h1"} {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			apiErr.Message = strings.Join(strings.Fields(text), " ")
			break
		}
	}
	html, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(html) == "" {
		return
	}
	if md, err := htmltomarkdown.ConvertString(html); err == nil {
		if md = strings.TrimSpace(md); md != "" {
			apiErr.Details = truncate(md, maxDetailLen)
		}
	}
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 64)]))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func defaultMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("Request failed with status %d", status)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
