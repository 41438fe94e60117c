package app

import (
	"strings"
	"testing"
)

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name string
		md   string
		want []string
	}{
		{
			name: "bold",
			md:   "Job **101** done",
			want: []string{"<strong>101</strong>"},
		},
		{
			name: "inline code",
			md:   "status `failed`",
			want: []string{"<code>failed</code>"},
		},
		{
			name: "fenced block escapes html",
			md:   "```\nfatal: <broken> & done\n```",
			want: []string{"<pre><code>", "&lt;broken&gt; &amp; done", "</code></pre>"},
		},
		{
			name: "newlines become br",
			md:   "line one\nline two",
			want: []string{"line one<br/>line two"},
		},
		{
			name: "unmatched delimiter left alone",
			md:   "a ` stray backtick",
			want: []string{"a ` stray backtick"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := markdownToHTML(tt.md)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("markdownToHTML(%q) = %q, missing %q", tt.md, got, want)
				}
			}
		})
	}
}

func TestSenderAllowed(t *testing.T) {
	open := &App{config: &Config{}}
	if !open.senderAllowed("@anyone:ops") {
		t.Fatal("empty allowlist must admit everyone")
	}

	restricted := &App{config: &Config{AllowedSenders: []string{"@ana:ops", "@bob:ops"}}}
	if !restricted.senderAllowed("@ana:ops") {
		t.Fatal("listed sender rejected")
	}
	if restricted.senderAllowed("@mallory:ops") {
		t.Fatal("unlisted sender admitted")
	}
}
