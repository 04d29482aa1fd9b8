package resolver

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goGuard/backend"
	"github.com/MrEthical07/goGuard/identity"
	"github.com/MrEthical07/goGuard/permission"
)

// Authenticator performs the credential exchange on Login and the sign-out
// on Logout. The root Engine implements it with rate limiting, events and
// login history; CredentialAuthenticator is the bare version.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*identity.Session, error)
	Logout(ctx context.Context, sess *identity.Session) error
}

// CredentialAuthenticator delegates straight to a credential store.
type CredentialAuthenticator struct {
	Store backend.CredentialStore
}

func (a CredentialAuthenticator) Login(ctx context.Context, email, password string) (*identity.Session, error) {
	return a.Store.SignIn(ctx, email, password)
}

func (a CredentialAuthenticator) Logout(ctx context.Context, sess *identity.Session) error {
	if sess == nil {
		return nil
	}
	return a.Store.SignOut(ctx, sess.AccessToken)
}

// PermissionChecker is the authoritative remote check.
type PermissionChecker interface {
	Check(ctx context.Context, accessToken, resource, action string) (bool, error)
}

// Config tunes a Resolver.
type Config struct {
	// LoadTimeout bounds loads triggered by auth-change notifications.
	LoadTimeout time.Duration
	// IgnoreAuthChanges disables the credential store subscription.
	IgnoreAuthChanges bool
	// Mock answers CheckPermission from the local matrix.
	Mock bool
}

// Deps are the collaborators. Credentials and Rows are required.
type Deps struct {
	Credentials backend.CredentialStore
	Rows        RowSource
	Auth        Authenticator
	Remote      PermissionChecker
	Matrix      *permission.Matrix
	Cache       *permission.Cache
	Logger      *slog.Logger
	Now         func() time.Time
}

// Resolver holds the resolved identity of one client session.
type Resolver struct {
	loader *Loader
	auth   Authenticator
	remote PermissionChecker
	matrix *permission.Matrix
	cache  *permission.Cache
	logger *slog.Logger
	cfg    Config

	// opMu serializes Login, Logout, Adopt and auth changes.
	opMu sync.Mutex

	mu      sync.RWMutex
	state   State
	session *identity.Session
	seq     uint64
	applied uint64
	changed chan struct{}
	closed  bool
	// authenticating is set while Login or Adopt runs.
	authenticating bool

	queueMu sync.Mutex
	queue   []identity.AuthChange
	wake    chan struct{}

	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
}

// New starts in StatusIdle. Unless IgnoreAuthChanges is set it subscribes to
// the credential store and processes notifications on one goroutine until
// Close.
func New(deps Deps, cfg Config) *Resolver {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Auth == nil {
		deps.Auth = CredentialAuthenticator{Store: deps.Credentials}
	}
	if deps.Matrix == nil {
		deps.Matrix = permission.NewMatrix()
	}
	if deps.Cache == nil {
		deps.Cache = permission.NewCache(permission.CacheConfig{})
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	loader := NewLoader(deps.Credentials, deps.Rows, deps.Logger)
	if deps.Now != nil {
		loader.now = deps.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		loader:  loader,
		auth:    deps.Auth,
		remote:  deps.Remote,
		matrix:  deps.Matrix,
		cache:   deps.Cache,
		logger:  deps.Logger,
		cfg:     cfg,
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if cfg.IgnoreAuthChanges || deps.Credentials == nil {
		close(r.done)
		return r
	}
	r.unsubscribe = deps.Credentials.Subscribe(r.enqueue)
	go r.run()
	return r
}

// State returns the current snapshot.
func (r *Resolver) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.clone()
}

// Changes returns a channel closed at the next state change.
func (r *Resolver) Changes() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.changed
}

// Wait blocks until pred holds for the current state or ctx ends.
func (r *Resolver) Wait(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		r.mu.RLock()
		st, ch, closed := r.state.clone(), r.changed, r.closed
		r.mu.RUnlock()
		if pred(st) {
			return st, nil
		}
		if closed {
			return st, ErrClosed
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// beginLocked takes a load token and marks the state as loading.
func (r *Resolver) beginLocked() uint64 {
	r.seq++
	r.state.Status = StatusLoading
	r.state.Error = ""
	r.broadcastLocked()
	return r.seq
}

// apply installs st if tok is newer than the last applied load.
func (r *Resolver) apply(tok uint64, st State, sess *identity.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || tok <= r.applied {
		return false
	}
	r.applied = tok
	st.Version = tok
	r.state = st
	if st.Authenticated() {
		r.session = sess
	} else {
		r.session = nil
	}
	r.broadcastLocked()
	return true
}

// clear bumps the token past every in-flight load and goes anonymous.
func (r *Resolver) clear(errMsg string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid := r.state.User.ID
	if r.closed {
		return uid
	}
	r.seq++
	r.applied = r.seq
	r.state = State{Status: StatusAnonymous, Error: errMsg, Version: r.seq}
	r.session = nil
	r.broadcastLocked()
	return uid
}

func (r *Resolver) broadcastLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Resolver) currentSession() (*identity.Session, State) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session, r.state
}

// Login authenticates and fully loads identity, roles and profile before
// the state becomes Authenticated. The state's Error carries the
// caller-safe message on failure.
func (r *Resolver) Login(ctx context.Context, email, password string) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	tok, ok := r.beginAuth()
	if !ok {
		return ErrClosed
	}
	defer r.endAuth()
	sess, err := r.auth.Login(ctx, email, password)
	if err != nil {
		r.apply(tok, State{Status: StatusAnonymous, Error: err.Error()}, nil)
		return err
	}
	return r.loadSession(ctx, tok, sess)
}

// Adopt loads a session obtained elsewhere, for example after a second
// factor was verified or when restoring a persisted session. A nil session
// settles the resolver as anonymous.
func (r *Resolver) Adopt(ctx context.Context, sess *identity.Session) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	tok, ok := r.beginAuth()
	if !ok {
		return ErrClosed
	}
	defer r.endAuth()
	if sess == nil {
		r.apply(tok, State{Status: StatusAnonymous}, nil)
		return nil
	}
	return r.loadSession(ctx, tok, sess)
}

// beginAuth is begin for Login and Adopt. Reloads started after it wait
// for endAuth.
func (r *Resolver) beginAuth() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, false
	}
	r.authenticating = true
	return r.beginLocked(), true
}

func (r *Resolver) endAuth() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authenticating = false
	r.broadcastLocked()
}

// LoadUser reloads identity, roles and profile for the current session. A
// Login or Adopt in flight is waited for, so a reload never settles the
// state ahead of it. Otherwise loads may overlap each other and Logout; the
// load token keeps the newest result.
func (r *Resolver) LoadUser(ctx context.Context) error {
	for {
		changed := r.Changes()
		err := r.reload(ctx)
		if !errors.Is(err, errAuthPending) {
			return err
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reload loads the current session. It returns errAuthPending without
// taking a token while a Login or Adopt runs.
func (r *Resolver) reload(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.authenticating {
		r.mu.Unlock()
		return errAuthPending
	}
	sess := r.session
	tok := r.beginLocked()
	r.mu.Unlock()

	if sess == nil {
		r.apply(tok, State{Status: StatusAnonymous}, nil)
		return ErrNoSession
	}
	return r.loadSession(ctx, tok, sess)
}

func (r *Resolver) loadSession(ctx context.Context, tok uint64, sess *identity.Session) error {
	st, err := r.loader.Load(ctx, sess.AccessToken)
	if err != nil {
		r.apply(tok, State{Status: StatusAnonymous, Error: err.Error()}, nil)
		return err
	}
	if !r.apply(tok, st, sess) {
		if r.isClosed() {
			return ErrClosed
		}
		return ErrSuperseded
	}
	r.cache.Invalidate(st.User.ID)
	return nil
}

func (r *Resolver) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Logout signs out upstream and then clears local state whatever the
// upstream outcome. The upstream error is returned.
func (r *Resolver) Logout(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	sess, _ := r.currentSession()
	var err error
	if sess != nil {
		err = r.auth.Logout(ctx, sess)
		if err != nil {
			r.logger.Warn("goguard: upstream sign out failed, clearing local state", slog.Any("error", err))
		}
	}
	if uid := r.clear(""); uid != "" {
		r.cache.Invalidate(uid)
	}
	return err
}

// HasPermission is the synchronous matrix heuristic. It is for optimistic
// gating only.
func (r *Resolver) HasPermission(resource, action string) bool {
	_, st := r.currentSession()
	if !st.Authenticated() {
		return false
	}
	return r.matrix.HasPermission(st.Role, resource, action)
}

// CheckPermission asks the authoritative checker. Grants are cached per
// user; any error denies.
func (r *Resolver) CheckPermission(ctx context.Context, resource, action string) bool {
	sess, st := r.currentSession()
	if !st.Authenticated() || sess == nil {
		return false
	}
	perm := identity.Permission{Resource: resource, Action: action}
	if r.cache.Has(st.User.ID, perm) {
		return true
	}

	var granted bool
	if r.cfg.Mock || r.remote == nil {
		granted = r.matrix.HasPermission(st.Role, resource, action)
	} else {
		ok, err := r.remote.Check(ctx, sess.AccessToken, resource, action)
		if err != nil {
			r.logger.Warn("goguard: permission check failed",
				slog.String("user_id", st.User.ID), slog.String("resource", resource), slog.Any("error", err))
			return false
		}
		granted = ok
	}
	if granted {
		r.cache.Add(st.User.ID, perm)
	}
	return granted
}

// Close stops notification processing. Later operations return ErrClosed
// and in-flight loads are discarded.
func (r *Resolver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.broadcastLocked()
	r.mu.Unlock()

	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.cancel()
	<-r.done
	return nil
}
