package redact_test

import (
	"strings"
	"testing"

	"github.com/bdobrica/Towa/common/redact"
)

func TestString_ReplacesSensitiveValues(t *testing.T) {
	line := "connecting with token abcd1234 to https://awx.example.com"
	got := redact.String(line, "abcd1234")
	if strings.Contains(got, "abcd1234") {
		t.Errorf("token leaked: %q", got)
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Errorf("expected placeholder in %q", got)
	}
}

func TestString_SkipsShortValues(t *testing.T) {
	line := "ok: a ok"
	if got := redact.String(line, "ok"); got != line {
		t.Errorf("short values must not be redacted, got %q", got)
	}
}

func TestMap_RedactsSensitiveKeys(t *testing.T) {
	m := map[string]any{
		"awx_token": "secret-value",
		"base_url":  "https://awx.example.com",
		"page_size": 25,
	}
	got := redact.Map(m)
	if got["awx_token"] != "[REDACTED]" {
		t.Errorf("awx_token not redacted: %v", got["awx_token"])
	}
	if got["base_url"] != "https://awx.example.com" {
		t.Errorf("base_url should be untouched: %v", got["base_url"])
	}
	if got["page_size"] != 25 {
		t.Errorf("non-string values should be untouched: %v", got["page_size"])
	}
}

func TestArgs_RedactsCredentialArguments(t *testing.T) {
	args := map[string]string{
		"template_id": "42",
		"password":    "hunter2+long",
	}
	got := redact.Args(args)
	if got["password"] != "[REDACTED]" {
		t.Errorf("password not redacted: %q", got["password"])
	}
	if got["template_id"] != "42" {
		t.Errorf("template_id should be untouched: %q", got["template_id"])
	}
}
