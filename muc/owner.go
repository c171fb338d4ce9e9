// Owner operations (XEP-0045 §10): configuration form get/set and room
// destruction, as
// match into Go functions returning a parsed form plus an ok bool, the
// convention this repo's xmpp package already uses (NewXFromElement).
package muc

import (
	"strconv"

	"github.com/waddle-social/waddle/storage/model"
	"github.com/waddle-social/waddle/xmpp"
)

// ConfigFormData is a parsed XEP-0045 §10.2 room configuration submission;
// every field is a pointer so an absent form field leaves the current
// room configuration untouched.
type ConfigFormData struct {
	Name               *string
	Description        *string
	Persistent         *bool
	MembersOnly        *bool
	Moderated          *bool
	MaxOccupants        *int
	Password           *string
	Anonymity          *string
	MaxHistoryMessages *int
	EnableLogging      *bool
}

// BuildConfigForm builds the jabber:x:data form an owner's
// http://jabber.org/protocol/muc#owner IQ get receives, pre-filled with
// room's current configuration.
func BuildConfigForm(room *Room) *xmpp.Element {
	query := xmpp.NewElementNamespace("query", NSMucOwner)
	x := xmpp.NewElementNamespace("x", NSDataForms)
	x.SetAttribute("type", "form")

	x.AppendElement(hiddenField("FORM_TYPE", "http://jabber.org/protocol/muc#roomconfig"))
	x.AppendElement(textField("muc#roomconfig_roomname", room.Config.Name))
	x.AppendElement(textField("muc#roomconfig_roomdesc", room.Config.Description))
	x.AppendElement(booleanField("muc#roomconfig_persistentroom", room.Config.Persistent))
	x.AppendElement(booleanField("muc#roomconfig_membersonly", room.Config.MembersOnly))
	x.AppendElement(booleanField("muc#roomconfig_moderatedroom", room.Config.ModeratedRoom))
	x.AppendElement(textField("muc#roomconfig_maxusers", itoa(room.Config.MaxOccupants)))
	x.AppendElement(textField("muc#roomconfig_whois", anonymityWhois(room.Config.Anonymity)))
	x.AppendElement(booleanField("muc#roomconfig_enablelogging", room.Config.EnableLogging))

	query.AppendElement(x)
	return query
}

// ParseConfigForm reads a http://jabber.org/protocol/muc#owner IQ set's
// submitted jabber:x:data form into ConfigFormData. ok is false when the
// query carries no jabber:x:data <x/> or the form has type="cancel"; an
// empty submitted form yields ok=true with no fields set, which leaves the
// room configuration unchanged.
func ParseConfigForm(query xmpp.XElement) (ConfigFormData, bool) {
	var data ConfigFormData
	x := query.Elements().ChildNamespace("x", NSDataForms)
	if x == nil {
		return data, false
	}
	if x.Attributes().Get("type") == "cancel" {
		return data, false
	}
	for _, f := range x.Elements().All() {
		if f.Name() != "field" {
			continue
		}
		name := f.Attributes().Get("var")
		value := fieldValue(f)
		switch name {
		case "muc#roomconfig_roomname":
			data.Name = &value
		case "muc#roomconfig_roomdesc":
			data.Description = &value
		case "muc#roomconfig_persistentroom":
			b := value == "1" || value == "true"
			data.Persistent = &b
		case "muc#roomconfig_membersonly":
			b := value == "1" || value == "true"
			data.MembersOnly = &b
		case "muc#roomconfig_moderatedroom":
			b := value == "1" || value == "true"
			data.Moderated = &b
		case "muc#roomconfig_maxusers":
			if n, err := strconv.Atoi(value); err == nil {
				data.MaxOccupants = &n
			}
		case "muc#roomconfig_roomsecret":
			data.Password = &value
		case "muc#roomconfig_whois":
			anon := whoisAnonymity(value)
			data.Anonymity = &anon
		case "muc#roomconfig_enablelogging":
			b := value == "1" || value == "true"
			data.EnableLogging = &b
		}
	}
	return data, true
}

// ApplyConfig merges data's present fields onto cfg's persisted
// configuration, returning the updated record ready for
// storage.MUCRepository.UpsertRoom.
func ApplyConfig(cfg model.MUCRoom, data ConfigFormData) model.MUCRoom {
	// data.Name is accepted on the wire (XEP-0045's muc#roomconfig_roomname
	// field) but ignored: the room's node part is fixed at creation time.
	if data.Description != nil {
		cfg.Description = *data.Description
	}
	if data.Persistent != nil {
		cfg.Persistent = *data.Persistent
	}
	if data.MembersOnly != nil {
		cfg.MembersOnly = *data.MembersOnly
	}
	if data.Moderated != nil {
		cfg.ModeratedRoom = *data.Moderated
	}
	if data.MaxOccupants != nil {
		cfg.MaxOccupants = *data.MaxOccupants
	}
	if data.Password != nil {
		cfg.Password = *data.Password
	}
	if data.Anonymity != nil {
		cfg.Anonymity = *data.Anonymity
	}
	if data.MaxHistoryMessages != nil {
		cfg.MaxHistoryMessages = *data.MaxHistoryMessages
	}
	if data.EnableLogging != nil {
		cfg.EnableLogging = *data.EnableLogging
	}
	return cfg
}

// DestroyRequest is a parsed XEP-0045 §10.9 room destruction request.
type DestroyRequest struct {
	Reason         string
	AlternateVenue string
	Password       string
}

// ParseDestroyElement reads a http://jabber.org/protocol/muc#owner IQ
// set's <destroy/> child, if present.
func ParseDestroyElement(query xmpp.XElement) (*DestroyRequest, bool) {
	d := query.Elements().Child("destroy")
	if d == nil {
		return nil, false
	}
	req := &DestroyRequest{AlternateVenue: d.Attributes().Get("jid")}
	if r := d.Elements().Child("reason"); r != nil {
		req.Reason = r.Text()
	}
	if p := d.Elements().Child("password"); p != nil {
		req.Password = p.Text()
	}
	return req, true
}

func hiddenField(name, value string) *xmpp.Element {
	f := xmpp.NewElementName("field")
	f.SetAttribute("var", name)
	f.SetAttribute("type", "hidden")
	v := xmpp.NewElementName("value")
	v.SetText(value)
	f.AppendElement(v)
	return f
}

func textField(name, value string) *xmpp.Element {
	f := xmpp.NewElementName("field")
	f.SetAttribute("var", name)
	v := xmpp.NewElementName("value")
	v.SetText(value)
	f.AppendElement(v)
	return f
}

func booleanField(name string, value bool) *xmpp.Element {
	s := "0"
	if value {
		s = "1"
	}
	return textField(name, s)
}

func fieldValue(f xmpp.XElement) string {
	if v := f.Elements().Child("value"); v != nil {
		return v.Text()
	}
	return ""
}

func anonymityWhois(anonymity string) string {
	if anonymity == "none" {
		return "anyone"
	}
	return "moderators"
}

func whoisAnonymity(whois string) string {
	if whois == "anyone" {
		return "none"
	}
	return "semi"
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	return strconv.Itoa(v)
}
