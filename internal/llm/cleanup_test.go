package llm

import (
	"testing"

	"github.com/rotisserie/eris"
)

func TestCleanResponse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "collapses whitespace and strips end marker", input: "hello   world<|endoftext|>  ", want: "hello world"},
		{name: "strips pad marker", input: "<|pad|>NewJeans\tare\n\nback", want: "NewJeans are back"},
		{name: "marker only", input: " <|endoftext|><|pad|> ", want: ""},
		{name: "already clean", input: "Hanni", want: "Hanni"},
		{name: "empty", input: "", want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := CleanResponse(tc.input); got != tc.want {
				t.Fatalf("CleanResponse(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestResultString(t *testing.T) {
	t.Parallel()

	if got := Ok(" to dance").String(); got != " to dance" {
		t.Fatalf("expected continuation text, got %q", got)
	}

	if got := Failed(eris.New("inference failed")).String(); got != ErrorSentinel {
		t.Fatalf("expected sentinel, got %q", got)
	}
}
