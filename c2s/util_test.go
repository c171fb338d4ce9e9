package c2s

import (
	"testing"

	"github.com/waddle-social/waddle/xmpp"
)

func TestStripClientFromBlanksAttribute(t *testing.T) {
	e := xmpp.NewElementName("message")
	e.SetAttribute("from", "mallory@waddle.example/evil")
	stripClientFrom(e)
	if got := e.Attributes().Get("from"); got != "" {
		t.Fatalf("expected from stripped, got %q", got)
	}
}

func TestUitoa(t *testing.T) {
	cases := map[uint32]string{
		0:          "0",
		1:          "1",
		9:          "9",
		10:         "10",
		255:        "255",
		4294967295: "4294967295",
	}
	for in, want := range cases {
		if got := uitoa(in); got != want {
			t.Fatalf("uitoa(%d) = %q, want %q", in, got, want)
		}
	}
}
