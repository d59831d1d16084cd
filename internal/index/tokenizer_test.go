package index

import "testing"

func TestTokenizeStripsPunctuationAndShortTokens(t *testing.T) {
	tokens := Tokenize("Hi! a grocery-list: milk, eggs.")
	want := map[string]bool{"Hi": true, "grocerylist": true, "milk": true, "eggs": true}
	if len(tokens) != len(want) {
		t.Fatalf("got %v, want tokens matching %v", tokens, want)
	}
	for _, tok := range tokens {
		if !want[tok] {
			t.Fatalf("unexpected token %q in %v", tok, tokens)
		}
	}
}

func TestTokenizeDropsSingleCharTokens(t *testing.T) {
	tokens := Tokenize("a I am")
	for _, tok := range tokens {
		if len(tok) <= 1 {
			t.Fatalf("token %q should have been dropped", tok)
		}
	}
}

func TestCountTallies(t *testing.T) {
	counts := Count([]string{"milk", "eggs", "milk"})
	if counts["milk"] != 2 || counts["eggs"] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
