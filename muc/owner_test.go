package muc

import (
	"testing"

	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

func TestBuildConfigFormReflectsCurrentConfig(t *testing.T) {
	room := NewRoom("conference.waddle.example", model.MUCRoom{
		Name: "lobby", Description: "a quiet room", Persistent: true, MaxOccupants: 50, Anonymity: "none",
	}, nil)
	query := BuildConfigForm(room)
	x := query.Elements().ChildNamespace("x", NSDataForms)
	values := map[string]string{}
	for _, f := range x.Elements().All() {
		if f.Name() != "field" {
			continue
		}
		values[f.Attributes().Get("var")] = fieldValue(f)
	}
	if values["muc#roomconfig_roomdesc"] != "a quiet room" {
		t.Fatalf("expected description reflected, got %q", values["muc#roomconfig_roomdesc"])
	}
	if values["muc#roomconfig_persistentroom"] != "1" {
		t.Fatalf("expected persistentroom=1, got %q", values["muc#roomconfig_persistentroom"])
	}
	if values["muc#roomconfig_whois"] != "anyone" {
		t.Fatalf("expected whois=anyone for anonymity=none, got %q", values["muc#roomconfig_whois"])
	}
}

func buildSubmitForm(fields map[string]string) xmpp.XElement {
	query := xmpp.NewElementNamespace("query", NSMucOwner)
	x := xmpp.NewElementNamespace("x", NSDataForms)
	x.SetAttribute("type", "submit")
	for k, v := range fields {
		f := xmpp.NewElementName("field")
		f.SetAttribute("var", k)
		val := xmpp.NewElementName("value")
		val.SetText(v)
		f.AppendElement(val)
		x.AppendElement(f)
	}
	query.AppendElement(x)
	return query
}

func TestParseConfigFormRoundTrip(t *testing.T) {
	query := buildSubmitForm(map[string]string{
		"muc#roomconfig_roomdesc":      "updated",
		"muc#roomconfig_persistentroom": "1",
		"muc#roomconfig_membersonly":    "0",
		"muc#roomconfig_maxusers":       "30",
		"muc#roomconfig_whois":          "anyone",
	})
	data, ok := ParseConfigForm(query)
	if !ok {
		t.Fatalf("expected ok=true for a submit form")
	}
	if data.Description == nil || *data.Description != "updated" {
		t.Fatalf("expected description parsed")
	}
	if data.Persistent == nil || !*data.Persistent {
		t.Fatalf("expected persistent=true")
	}
	if data.MaxOccupants == nil || *data.MaxOccupants != 30 {
		t.Fatalf("expected maxoccupants=30")
	}
	if data.Anonymity == nil || *data.Anonymity != "none" {
		t.Fatalf("expected anonymity=none for whois=anyone, got %v", data.Anonymity)
	}

	cfg := ApplyConfig(model.MUCRoom{Name: "lobby"}, data)
	if cfg.Description != "updated" || !cfg.Persistent || cfg.MaxOccupants != 30 || cfg.Anonymity != "none" {
		t.Fatalf("unexpected applied config: %+v", cfg)
	}
}

func TestParseConfigFormCancel(t *testing.T) {
	query := xmpp.NewElementNamespace("query", NSMucOwner)
	x := xmpp.NewElementNamespace("x", NSDataForms)
	x.SetAttribute("type", "cancel")
	query.AppendElement(x)

	_, ok := ParseConfigForm(query)
	if ok {
		t.Fatalf("expected ok=false for a cancel submission")
	}
}

func TestParseDestroyElement(t *testing.T) {
	query := xmpp.NewElementNamespace("query", NSMucOwner)
	destroy := xmpp.NewElementName("destroy")
	destroy.SetAttribute("jid", "other@conference.waddle.example")
	reason := xmpp.NewElementName("reason")
	reason.SetText("room closed")
	destroy.AppendElement(reason)
	query.AppendElement(destroy)

	req, ok := ParseDestroyElement(query)
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if req.AlternateVenue != "other@conference.waddle.example" || req.Reason != "room closed" {
		t.Fatalf("unexpected parsed destroy request: %+v", req)
	}
}

func TestParseDestroyElementAbsent(t *testing.T) {
	query := xmpp.NewElementNamespace("query", NSMucOwner)
	if _, ok := ParseDestroyElement(query); ok {
		t.Fatalf("expected ok=false when no <destroy/> child is present")
	}
}
