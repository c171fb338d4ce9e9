package c2s

import "github.com/waddle-social/waddle/xmpp"

// stripClientFrom blanks any from="" a client supplied on an inbound
// first-level stanza; a client's own connection is only ever the
// authenticated JID this stream is bound to, never whatever it typed.
func stripClientFrom(elem xmpp.XElement) {
	if e, ok := elem.(*xmpp.Element); ok {
		e.SetAttribute("from", "")
	}
}

// uitoa renders a stream-management sequence counter as a decimal string,
// the same small helper package sm keeps unexported for its own element
// builders.
func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
