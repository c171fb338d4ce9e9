package mam

import (
	"testing"
	"time"

	"github.com/waddle-social/waddle/jid"
	"github.com/waddle-social/waddle/storage/model"
)

func TestBuildForwardedMessageWrapsOriginalStanza(t *testing.T) {
	to, _ := jid.NewString("alice@waddle.example/phone", false)
	msg := model.ArchivedMessage{
		StanzaID: "m42", StoredAt: time.Unix(1700000000, 0),
		XML: "<message from='bob@waddle.example' to='alice@waddle.example'><body>hi</body></message>",
	}

	out, err := BuildForwardedMessage(to, msg, "q1")
	if err != nil {
		t.Fatalf("BuildForwardedMessage: %v", err)
	}
	result := out.Elements().ChildNamespace("result", nsMAM)
	if result == nil {
		t.Fatalf("expected a <result/> child")
	}
	if result.Attributes().Get("id") != "m42" || result.Attributes().Get("queryid") != "q1" {
		t.Fatalf("unexpected result attributes: %+v", result)
	}
	forwarded := result.Elements().ChildNamespace("forwarded", nsForward)
	if forwarded == nil {
		t.Fatalf("expected a <forwarded/> child")
	}
	if forwarded.Elements().ChildNamespace("delay", nsDelay) == nil {
		t.Fatalf("expected a <delay/> child")
	}
	inner := forwarded.Elements().Child("message")
	if inner == nil || inner.Elements().Child("body").Text() != "hi" {
		t.Fatalf("expected the original stanza preserved inside <forwarded/>")
	}
}

func TestBuildForwardedMessagePropagatesParseError(t *testing.T) {
	to, _ := jid.NewString("alice@waddle.example/phone", false)
	msg := model.ArchivedMessage{StanzaID: "bad", XML: "<not-closed>", StoredAt: time.Now()}
	if _, err := BuildForwardedMessage(to, msg, ""); err == nil {
		t.Fatalf("expected an error for malformed archived XML")
	}
}

func TestBuildFinCompleteAndRSM(t *testing.T) {
	res := &Result{Complete: true, FirstID: "m1", LastID: "m50"}
	fin := BuildFin(res)
	if fin.Attributes().Get("complete") != "true" {
		t.Fatalf("expected complete='true'")
	}
	set := fin.Elements().ChildNamespace("set", "http://jabber.org/protocol/rsm")
	if set.Elements().Child("first").Text() != "m1" || set.Elements().Child("last").Text() != "m50" {
		t.Fatalf("unexpected rsm set contents")
	}
}

func TestBuildFinIncomplete(t *testing.T) {
	fin := BuildFin(&Result{Complete: false})
	if fin.Attributes().Get("complete") != "" {
		t.Fatalf("expected no complete attribute when the page is incomplete")
	}
}
