// Package model holds the persistence-layer record types backing every
// storage.Repository: a flat, struct-per-table shape the
// storage/sql layer uses (no ORM, explicit column mapping via squirrel).
package model

import "time"

// User is a registered account, keyed by the node part of its bare JID.
// Native users carry SCRAM credentials; bridge users carry an ATProto
// identity binding instead.
type User struct {
	Username       string
	Password       string // legacy PLAIN-compatible hash, empty once SCRAM-only
	SCRAMSalt      []byte
	SCRAMIterations int
	SCRAMStoredKey []byte
	SCRAMServerKey []byte

	ATProtoDID     string // e.g. "did:plc:abc123..."
	ATProtoHandle  string // e.g. "alice.bsky.social"

	LoggedOutAt    time.Time
	LoggedOutStatus string

	LastActivityAt time.Time
	LastActivityStatus string
}

// RosterItem is one entry in a user's contact list (RFC 6121 §2).
type RosterItem struct {
	Username     string
	JID          string
	Name         string
	Subscription string // "none", "to", "from", "both"
	Ask          bool   // outstanding subscribe request
	Groups       []string
	Ver          int // per-user roster version counter (XEP-0237)
}

// RosterNotification is a pending inbound subscription request awaiting
// the owner's approval/denial.
type RosterNotification struct {
	Username string
	JID      string
	Presence string // raw <presence type="subscribe"/> XML, replayed on login
}

// RosterVersion tracks the monotonic roster version counter per user for
// XEP-0237 roster versioning.
type RosterVersion struct {
	Username  string
	Ver       int
	DeleteVer int
}

// BlockListItem is one blocked bare JID for a user (XEP-0191).
type BlockListItem struct {
	Username string
	JID      string
}

// PrivateXML is one namespace-keyed private storage blob (XEP-0049).
type PrivateXML struct {
	Username  string
	Namespace string
	XML       string
}

// VCard is the raw stored vCard XML for a user (XEP-0054).
type VCard struct {
	Username string
	XML      string
}

// OfflineMessage is a message queued for a user while they had no
// connected resource.
type OfflineMessage struct {
	ID        int64
	Username  string
	XML       string
	DelayedAt time.Time
}

// ArchivedMessage is one MAM-archived stanza (XEP-0313).
type ArchivedMessage struct {
	ArchiveID  int64  // monotonic, per-archive sequence used for RSM paging
	StanzaID   string // XEP-0359 origin/stanza id surfaced to clients
	Archive    string // bare JID of the owning archive (user or MUC room)
	Direction  string // "inbound" or "outbound" relative to Archive
	Counterpart string // bare or full JID of the other party
	XML        string
	StoredAt   time.Time
}

// MUCRoom is a persisted room configuration.
type MUCRoom struct {
	Name               string // room node part, e.g. "lobby"
	Subject            string
	Persistent         bool
	Public             bool
	MembersOnly        bool
	ModeratedRoom      bool
	MaxHistoryMessages int

	Password     string // empty means password-not-protected
	MaxOccupants int    // 0 means unbounded
	Anonymity    string // "semi" (default) or "none" (full-jid visible to all)
	Description  string
	EnableLogging bool // archive groupchat messages to MAM when true
}

// MUCAffiliation is a persisted long-lived room affiliation,
// independent of whether the affiliated JID currently occupies the room.
type MUCAffiliation struct {
	Room        string
	JID         string // bare JID
	Affiliation string // "owner", "admin", "member", "outcast", "none"
}

// ISRToken is a stored XEP-0397 Instant Stream Resumption token, opaque
// to the client and bound to the full JID it was minted for.
type ISRToken struct {
	Token      string
	Username   string
	Resource   string
	IssuedAt   time.Time
	ExpiresAt  time.Time

	// SM state snapshotted at suspend time, so a resumption can replay
	// the unacked queue without the original TCP connection surviving.
	LastStreamID   string
	InboundCount   uint32
	OutboundCount  uint32
}

// BridgeToken is a one-time credential minted by the ATProto OAuth
// callback handler, redeemed exactly once by the X-WADDLE-BRIDGE SASL
// mechanism.
type BridgeToken struct {
	Token     string
	Username  string
	ExpiresAt time.Time
}
