package prompt

import "testing"

func TestInterpolateString(t *testing.T) {
	ctx := CreateContext(map[string]string{"char": "Rex", "user": "Sam"})

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"both tokens", "{{char}} says hi to {{user}}", "Rex says hi to Sam"},
		{"unknown token stays verbatim", "{{char}} and {{foo}}", "Rex and {{foo}}"},
		{"case sensitive", "{{Char}}", "{{Char}}"},
		{"no tokens", "plain text", "plain text"},
		{"empty", "", ""},
		{"unterminated", "hello {{char", "hello {{char"},
		{"repeated", "{{char}}{{char}}", "RexRex"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := InterpolateString(tc.in, ctx)
			if got != tc.want {
				t.Fatalf("InterpolateString(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestInterpolateString_EmptyContext(t *testing.T) {
	got := InterpolateString("{{char}}: hello", CreateContext(nil))
	if got != "{{char}}: hello" {
		t.Fatalf("expected unresolved tokens untouched, got %q", got)
	}
}
