// Package badger provides a durable SessionService backed by BadgerDB v4.
// Sessions are stored as JSON records; user: and app: scoped state lives
// under separate key prefixes so it is shared across sessions the way the
// in-memory service shares it.
package badger

import (
	"encoding/json"
	"errors"
	"log"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/session"
)

const (
	sessPrefix = "sess/"
	userPrefix = "user/"
	appPrefix  = "app/"
)

// Options configures the Badger-backed session service.
type Options struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB in memory-only mode, no disk persistence.
	// Useful for testing with the real badger engine.
	InMemory bool

	// Logger sets the badger logger. If nil, a quiet logger is used that
	// only reports warnings and errors.
	Logger badger.Logger
}

// Service is a SessionService persisting sessions in BadgerDB.
type Service struct {
	db *badger.DB
}

// New opens (or creates) the badger database and returns the service.
func New(opts Options) (*Service, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(quietLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Service{db: db}, nil
}

// Close releases the underlying database.
func (s *Service) Close() error {
	return s.db.Close()
}

func sessKey(ref core.SessionRef) []byte {
	return []byte(sessPrefix + ref.AppName + "/" + ref.UserID + "/" + ref.SessionID)
}

func userKey(ref core.SessionRef) []byte {
	return []byte(userPrefix + ref.AppName + "/" + ref.UserID)
}

func appKey(ref core.SessionRef) []byte {
	return []byte(appPrefix + ref.AppName)
}

// Create allocates a new empty session. Creating an existing ref is an error.
func (s *Service) Create(ref core.SessionRef) (*core.Session, error) {
	key := sessKey(ref)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return errors.New("session " + ref.SessionID + " already exists")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(core.NewSession(ref))
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ref)
}

// Get returns a snapshot of the session with the scoped user: and app: state
// merged in, or session.ErrNotFound.
func (s *Service) Get(ref core.SessionRef) (*core.Session, error) {
	var sess *core.Session
	err := s.db.View(func(txn *badger.Txn) error {
		loaded, err := loadSession(txn, ref)
		if err != nil {
			return err
		}
		merged := map[string]any{}
		appState, err := loadScoped(txn, appKey(ref))
		if err != nil {
			return err
		}
		for k, v := range appState {
			merged[k] = v
		}
		userState, err := loadScoped(txn, userKey(ref))
		if err != nil {
			return err
		}
		for k, v := range userState {
			merged[k] = v
		}
		if len(merged) > 0 {
			loaded.ApplyStateDelta(merged)
		}
		sess = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// List enumerates session refs for one app/user pair.
func (s *Service) List(appName, userID string) ([]core.SessionRef, error) {
	prefix := []byte(sessPrefix + appName + "/" + userID + "/")
	refs := []core.SessionRef{}
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().KeyCopy(nil))
			sessionID := strings.TrimPrefix(key, string(prefix))
			refs = append(refs, core.SessionRef{
				AppName:   appName,
				UserID:    userID,
				SessionID: sessionID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// Delete removes a session. Scoped user/app state is untouched.
func (s *Service) Delete(ref core.SessionRef) error {
	key := sessKey(ref)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return session.ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

// AppendEvent adds an event to the session history.
func (s *Service) AppendEvent(ref core.SessionRef, ev core.Event) error {
	return s.db.Update(func(txn *badger.Txn) error {
		sess, err := loadSession(txn, ref)
		if err != nil {
			return err
		}
		sess.AppendEvent(ev)
		return storeSession(txn, ref, sess)
	})
}

// ApplyStateDelta routes each key to its scope's record. temp: keys are
// dropped.
func (s *Service) ApplyStateDelta(ref core.SessionRef, delta map[string]any) error {
	local := map[string]any{}
	userDelta := map[string]any{}
	appDelta := map[string]any{}
	for k, v := range delta {
		switch {
		case core.IsTempKey(k):
		case core.IsUserKey(k):
			userDelta[k] = v
		case core.IsAppKey(k):
			appDelta[k] = v
		default:
			local[k] = v
		}
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if len(local) > 0 {
			sess, err := loadSession(txn, ref)
			if err != nil {
				return err
			}
			sess.ApplyStateDelta(local)
			if err := storeSession(txn, ref, sess); err != nil {
				return err
			}
		}
		if len(userDelta) > 0 {
			if err := mergeScoped(txn, userKey(ref), userDelta); err != nil {
				return err
			}
		}
		if len(appDelta) > 0 {
			if err := mergeScoped(txn, appKey(ref), appDelta); err != nil {
				return err
			}
		}
		return nil
	})
}

func loadSession(txn *badger.Txn, ref core.SessionRef) (*core.Session, error) {
	item, err := txn.Get(sessKey(ref))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	var sess core.Session
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func storeSession(txn *badger.Txn, ref core.SessionRef, sess *core.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return txn.Set(sessKey(ref), data)
}

func loadScoped(txn *badger.Txn, key []byte) (map[string]any, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var state map[string]any
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &state)
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func mergeScoped(txn *badger.Txn, key []byte, delta map[string]any) error {
	state, err := loadScoped(txn, key)
	if err != nil {
		return err
	}
	if state == nil {
		state = map[string]any{}
	}
	for k, v := range delta {
		state[k] = v
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// quietLogger forwards badger warnings and errors to the standard logger
// and drops info and debug messages.
type quietLogger struct{}

func (quietLogger) Errorf(f string, v ...interface{})   { log.Printf("[badger] ERROR: "+f, v...) }
func (quietLogger) Warningf(f string, v ...interface{}) { log.Printf("[badger] WARN: "+f, v...) }
func (quietLogger) Infof(string, ...interface{})        {}
func (quietLogger) Debugf(string, ...interface{})       {}
