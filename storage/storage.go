// Package storage defines the persistence boundary every other package
// talks to, reached through the process-wide storage.Instance()
// singleton. The concrete SQL implementation lives in
// storage/sql; this package only knows the Repository interface.
package storage

import (
	"sync"
	"time"

	"github.com/waddle-social/waddle/storage/model"
)

// UserRepository manages accounts and their credential material.
type UserRepository interface {
	FetchUser(username string) (*model.User, error)
	UpsertUser(u *model.User) error
	DeleteUser(username string) error
	UserExists(username string) (bool, error)

	SetLastActivity(username, status string) error
	FetchLastActivity(username string) (*model.User, error)

	PutBridgeToken(t *model.BridgeToken) error
	RedeemBridgeToken(token string) (username string, ok bool, err error)
}

// RosterRepository manages contact lists and pending subscriptions.
type RosterRepository interface {
	UpsertRosterItem(item *model.RosterItem) (ver int, err error)
	DeleteRosterItem(username, jid string) (ver int, err error)
	FetchRosterItems(username string) ([]model.RosterItem, int, error)
	FetchRosterItemsInGroups(username string, groups []string) ([]model.RosterItem, error)
	FetchRosterItem(username, jid string) (*model.RosterItem, error)

	InsertRosterNotification(n *model.RosterNotification) error
	DeleteRosterNotification(username, jid string) error
	FetchRosterNotifications(username string) ([]model.RosterNotification, error)

	FetchRosterVersion(username string) (*model.RosterVersion, error)
}

// BlockListRepository manages XEP-0191 blocking lists.
type BlockListRepository interface {
	InsertBlockListItem(item *model.BlockListItem) error
	DeleteBlockListItem(item *model.BlockListItem) error
	FetchBlockListItems(username string) ([]model.BlockListItem, error)
}

// PrivateRepository manages XEP-0049 private XML storage.
type PrivateRepository interface {
	FetchPrivateXML(namespace, username string) (string, error)
	UpsertPrivateXML(namespace, username, rawXML string) error
}

// VCardRepository manages XEP-0054 vCards.
type VCardRepository interface {
	FetchVCard(username string) (string, error)
	UpsertVCard(username, rawXML string) error
}

// OfflineRepository manages queued offline messages.
type OfflineRepository interface {
	InsertOfflineMessage(msg *model.OfflineMessage) error
	CountOfflineMessages(username string) (int, error)
	FetchOfflineMessages(username string) ([]model.OfflineMessage, error)
	DeleteOfflineMessages(username string) error
}

// ArchiveFilter narrows a MAM query beyond plain RSM paging (the
// with/start/end filters of XEP-0313 §4.2).
type ArchiveFilter struct {
	With  string // bare or full JID counterpart filter; "" means unfiltered
	Start time.Time
	End   time.Time
}

// ArchiveRepository manages the MAM message archive.
type ArchiveRepository interface {
	InsertArchivedMessage(msg *model.ArchivedMessage) error
	// QueryArchive returns up to limit+1 messages ordered ascending by
	// ArchiveID within (afterID, beforeID), so the caller can detect
	// whether the page is complete (callers fetch N+1 rows).
	QueryArchive(archive string, afterID, beforeID int64, limit int) ([]model.ArchivedMessage, error)
	// QueryArchiveFiltered is QueryArchive narrowed by filter's with/
	// start/end constraints, used by package mam's query engine.
	QueryArchiveFiltered(archive string, afterID, beforeID int64, limit int, filter ArchiveFilter) ([]model.ArchivedMessage, error)
	ArchiveMessageCount(archive string) (int, error)
}

// MUCRepository manages persisted room configuration and affiliations.
type MUCRepository interface {
	UpsertRoom(room *model.MUCRoom) error
	FetchRoom(name string) (*model.MUCRoom, error)
	DeleteRoom(name string) error
	FetchPersistentRooms() ([]model.MUCRoom, error)

	UpsertAffiliation(a *model.MUCAffiliation) error
	FetchAffiliation(room, jid string) (*model.MUCAffiliation, error)
	FetchAffiliations(room string) ([]model.MUCAffiliation, error)
	DeleteAffiliation(room, jid string) error
}

// ISRRepository manages XEP-0397 resumption tokens.
type ISRRepository interface {
	PutISRToken(t *model.ISRToken) error
	FetchISRToken(token string) (*model.ISRToken, error)
	ConsumeISRToken(token string) (*model.ISRToken, error)
	DeleteISRToken(token string) error
	CountISRTokens() (int, error)
	DeleteExpiredISRTokens() (int, error)
	DeleteOldestISRTokens(n int) (int, error)
}

// Repository is the full persistence surface the server depends on.
type Repository interface {
	UserRepository
	RosterRepository
	BlockListRepository
	PrivateRepository
	VCardRepository
	OfflineRepository
	ArchiveRepository
	MUCRepository
	ISRRepository

	Close() error
}

var (
	mu   sync.RWMutex
	repo Repository
)

// Initialize installs repo as the process-wide storage backend. Called
// once at startup from cmd/waddled after dialing the configured backend.
func Initialize(r Repository) {
	mu.Lock()
	defer mu.Unlock()
	repo = r
}

// Instance returns the process-wide storage backend.
func Instance() Repository {
	mu.RLock()
	defer mu.RUnlock()
	return repo
}

// Shutdown closes the backend and clears the singleton.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()
	if repo == nil {
		return nil
	}
	err := repo.Close()
	repo = nil
	return err
}
