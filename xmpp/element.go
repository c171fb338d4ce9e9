// Package xmpp implements the XML element and stanza model used across
// waddle (Element/XElement, Attributes,
// ElementSet, IQ/Presence/Message stanza wrappers) shared by every layer
// that builds or inspects stanzas.
package xmpp

import (
	"strings"
)

// XElement is the read-only element interface passed around the session
// state machine; Element is its sole concrete implementation.
type XElement interface {
	Name() string
	Namespace() string
	Text() string
	Attributes() Attributes
	Elements() ElementSet
	ToXML(includeClosing bool) string
	String() string
}

// Attribute is a single name/value XML attribute.
type Attribute struct {
	Label string
	Value string
}

// Attributes is the attribute set of an element.
type Attributes []Attribute

// Get returns the value of the named attribute, or "" if absent.
func (as Attributes) Get(label string) string {
	for _, a := range as {
		if a.Label == label {
			return a.Value
		}
	}
	return ""
}

// ElementSet is the ordered list of child elements of an element.
type ElementSet []XElement

// Child returns the first child with the given name, or nil.
func (es ElementSet) Child(name string) XElement {
	for _, e := range es {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

// ChildNamespace returns the first child matching both name and namespace.
func (es ElementSet) ChildNamespace(name, namespace string) XElement {
	for _, e := range es {
		if e.Name() == name && e.Namespace() == namespace {
			return e
		}
	}
	return nil
}

// ChildrenNamespace returns every child matching namespace, regardless of
// name (used by disco/MUC to collect <feature/>-like repeated elements).
func (es ElementSet) ChildrenNamespace(namespace string) []XElement {
	var out []XElement
	for _, e := range es {
		if e.Namespace() == namespace {
			out = append(out, e)
		}
	}
	return out
}

// All returns every child element.
func (es ElementSet) All() []XElement { return es }

// Element is the concrete, mutable XML element builder and value type.
type Element struct {
	name       string
	namespace  string
	text       string
	attributes Attributes
	elements   ElementSet
}

// NewElementName creates an empty element with the given name.
func NewElementName(name string) *Element {
	return &Element{name: name}
}

// NewElementNamespace creates an empty element with name and xmlns.
func NewElementNamespace(name, namespace string) *Element {
	return &Element{name: name, namespace: namespace}
}

// NewElementFromElement deep-copies another XElement, useful when building
// wrapper elements (e.g. error replies) around an existing element.
func NewElementFromElement(from XElement) *Element {
	e := &Element{
		name:      from.Name(),
		namespace: from.Namespace(),
		text:      from.Text(),
	}
	e.attributes = append(e.attributes, from.Attributes()...)
	for _, c := range from.Elements().All() {
		e.elements = append(e.elements, NewElementFromElement(c))
	}
	return e
}

func (e *Element) Name() string           { return e.name }
func (e *Element) Namespace() string      { return e.namespace }
func (e *Element) Text() string           { return e.text }
func (e *Element) Attributes() Attributes { return e.attributes }
func (e *Element) Elements() ElementSet   { return e.elements }

// SetNamespace sets the xmlns attribute value returned by Namespace.
func (e *Element) SetNamespace(namespace string) { e.namespace = namespace }

// SetText sets the element's character data.
func (e *Element) SetText(text string) { e.text = text }

// SetAttribute sets (or appends) an attribute value.
func (e *Element) SetAttribute(label, value string) {
	for i, a := range e.attributes {
		if a.Label == label {
			e.attributes[i].Value = value
			return
		}
	}
	e.attributes = append(e.attributes, Attribute{Label: label, Value: value})
}

// AppendElement appends a child element.
func (e *Element) AppendElement(child XElement) {
	e.elements = append(e.elements, child)
}

// AppendElements appends several child elements.
func (e *Element) AppendElements(children []XElement) {
	e.elements = append(e.elements, children...)
}

// ID returns the "id" attribute, a common lookup across stanza types.
func (e *Element) ID() string { return e.Attributes().Get("id") }

// ToXML renders the element with its attributes, text and all descendants
// as XML text; an element with neither children nor text is written
// self-closing. includeClosing false affects only a childless
// <stream:stream>, which is then written as a bare opening tag (the
// stream header, left open for the rest of the connection).
func (e *Element) ToXML(includeClosing bool) string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(e.name)
	if e.namespace != "" {
		sb.WriteString(` xmlns="`)
		sb.WriteString(escapeAttr(e.namespace))
		sb.WriteByte('"')
	}
	for _, a := range e.attributes {
		if a.Label == "xmlns" {
			continue
		}
		sb.WriteByte(' ')
		sb.WriteString(a.Label)
		sb.WriteString(`="`)
		sb.WriteString(escapeAttr(a.Value))
		sb.WriteByte('"')
	}
	hasContent := len(e.elements) > 0 || e.text != ""
	if !hasContent {
		if !includeClosing && e.name == "stream:stream" {
			sb.WriteByte('>')
			return sb.String()
		}
		sb.WriteString("/>")
		return sb.String()
	}
	sb.WriteByte('>')
	if e.text != "" {
		sb.WriteString(escapeText(e.text))
	}
	for _, c := range e.elements {
		sb.WriteString(c.ToXML(true))
	}
	sb.WriteString("</")
	sb.WriteString(e.name)
	sb.WriteByte('>')
	return sb.String()
}

func (e *Element) String() string { return e.ToXML(true) }

func escapeAttr(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")
	return r.Replace(s)
}

func escapeText(s string) string {
	r := strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;")
	return r.Replace(s)
}
