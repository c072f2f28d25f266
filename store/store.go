package store

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/eapache/queue"

	"chatd/models"
)

// PageSize is the fixed number of accounts returned per List page.
const PageSize = 4

var (
	ErrAlreadyExists     = errors.New("user already exists")
	ErrNotFound          = errors.New("user does not exist")
	ErrAlreadyLoggedIn   = errors.New("user already logged in")
	ErrNotLoggedIn       = errors.New("user not logged in")
	ErrAuthorNotFound    = errors.New("author does not exist")
	ErrRecipientNotFound = errors.New("recipient does not exist")
)

type account struct {
	loggedIn bool
	mailbox  *queue.Queue
	// wake is buffered with capacity 1; Send signals it without blocking
	// and wakes at most this account's subscriber.
	wake chan struct{}
}

// Store holds every account and its mailbox. A single mutex covers
// directory mutation and mailbox append/drain together, so a delete can
// never race a send or drain into an inconsistent state.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*account
}

func New() *Store {
	return &Store{accounts: make(map[string]*account)}
}

// Create inserts a new account, logged in, with an empty mailbox.
func (s *Store) Create(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[userID]; ok {
		return ErrAlreadyExists
	}
	s.accounts[userID] = &account{
		loggedIn: true,
		mailbox:  queue.New(),
		wake:     make(chan struct{}, 1),
	}
	return nil
}

func (s *Store) Login(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return ErrNotFound
	}
	if acc.loggedIn {
		return ErrAlreadyLoggedIn
	}
	acc.loggedIn = true
	return nil
}

// Logout clears the logged-in flag. Unknown ids are ignored so that
// connection teardown stays idempotent.
func (s *Store) Logout(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc, ok := s.accounts[userID]; ok {
		acc.loggedIn = false
	}
}

// Delete removes the account and discards its mailbox unconditionally.
func (s *Store) Delete(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[userID]; !ok {
		return ErrNotFound
	}
	delete(s.accounts, userID)
	return nil
}

// List returns the accounts whose id contains wildcard as a substring,
// sorted by id and sliced into fixed-size pages. Pages beyond the result
// length yield an empty slice, never an error.
func (s *Store) List(wildcard string, page int) []models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]models.Account, 0, len(s.accounts))
	for id, acc := range s.accounts {
		if strings.Contains(id, wildcard) {
			matched = append(matched, models.Account{UserID: id, LoggedIn: acc.loggedIn})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UserID < matched[j].UserID })

	start := page * PageSize
	if page < 0 || start >= len(matched) {
		return nil
	}
	end := start + PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end]
}

// Send appends a message to the recipient's mailbox and signals its
// subscriber, if one is waiting. The author must still exist: a bound
// session whose account was deleted cannot send.
func (s *Store) Send(authorID, recipientID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[authorID]; !ok {
		return ErrAuthorNotFound
	}
	acc, ok := s.accounts[recipientID]
	if !ok {
		return ErrRecipientNotFound
	}
	acc.mailbox.Add(models.Message{AuthorID: authorID, RecipientID: recipientID, Text: text})
	select {
	case acc.wake <- struct{}{}:
	default:
	}
	return nil
}

// Drain removes and returns all queued messages for userID in FIFO order.
// A missing account drains to nothing.
func (s *Store) Drain(userID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok || acc.mailbox.Length() == 0 {
		return nil
	}
	msgs := make([]models.Message, 0, acc.mailbox.Length())
	for acc.mailbox.Length() > 0 {
		msgs = append(msgs, acc.mailbox.Remove().(models.Message))
	}
	return msgs
}

// Subscribe marks the account logged in and hands out its wake channel.
func (s *Store) Subscribe(userID string) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	acc.loggedIn = true
	return acc.wake, nil
}

// Account reports a snapshot of one account.
func (s *Store) Account(userID string) (models.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		return models.Account{}, false
	}
	return models.Account{UserID: userID, LoggedIn: acc.loggedIn}, true
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}
