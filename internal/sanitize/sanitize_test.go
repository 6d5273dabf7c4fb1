package sanitize

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"tags", "<p>Hello <b>world</b></p>", "Hello world"},
		{"entities", "Tom &amp; Jerry &lt;3 &quot;hi&quot; it&#39;s&nbsp;ok &gt;", `Tom & Jerry <3 "hi" it's ok >`},
		{
			"outlook banner across lines",
			"You don't often get email from x@y.com.\nLearn why this is important\nActual message",
			"Actual message",
		},
		{
			"multi recipient banner",
			"Some people who received this message don't often get email from a@b.com. Learn why this is important\nHello",
			"Hello",
		},
		{
			"curly apostrophe banner",
			"You don’t often get email from a@b.com Learn why this is important Body",
			"Body",
		},
		{"sender identification", "Hi [ at https://aka.ms/LearnAboutSenderIdentification ] there", "Hi  there"},
		{"gmail reaction", "Alice reacted via Gmail\nSee you", "See you"},
		{"gmail reaction zh", "张三已通过 Gmail 做出回应", ""},
		{"gmail reaction ko", "민수님이 Gmail 을 통해 반응함", ""},
		{"chinese date header", "好的 2024年1月2日 10:00，张三写道：", "好的"},
		{"at date header", `Yes At 2024-01-02 10:00:00, "Li Wei" wrote: old`, "Yes  old"},
		{"invalid utf8", "ab\xffcd", "abcd"},
	}

	s := New(Unicode)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := strings.TrimSpace(s.Sanitize(tt.in)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProfiles(t *testing.T) {
	in := "Grüße 你好\t世界\x00\u200b!\nnext"

	if got, want := New(Unicode).Sanitize(in), "Grüße 你好 世界!\nnext"; got != want {
		t.Errorf("unicode: got %q, want %q", got, want)
	}
	if got, want := New(Latin).Sanitize(in), "Gre  !\nnext"; got != want {
		t.Errorf("latin: got %q, want %q", got, want)
	}
}

func TestLatinProfileKeepsWordBoundaries(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Where\tis the\tlibrary?", "Where is the library?"},
		{"line one\r\nline two", "line one \nline two"},
		{"no\u00a0break", "no break"},
	}
	for _, tt := range tests {
		if got := New(Latin).Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnicodeProfileKeepsLocalizedHeaders(t *testing.T) {
	in := "了解です\n田中が 山田 に返信しました："
	if got := New(Unicode).Sanitize(in); got != in {
		t.Errorf("got %q, want input unchanged", got)
	}
}

func TestParseProfile(t *testing.T) {
	tests := []struct {
		in      string
		want    Profile
		wantErr bool
	}{
		{"", Unicode, false},
		{"unicode", Unicode, false},
		{"Latin", Latin, false},
		{"ascii", Latin, false},
		{"klingon", Unicode, true},
	}
	for _, tt := range tests {
		got, err := ParseProfile(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseProfile(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseProfile(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
