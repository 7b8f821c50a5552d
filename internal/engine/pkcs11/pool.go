//go:build cgo

package pkcs11

import (
	"errors"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// sessionPool manages the sessions of one module slot with Acquire/release
// semantics. Sessions stay open until Close, so session objects created
// through any of them remain visible to the others.
type sessionPool struct {
	mu        sync.Mutex
	ctx       *pkcs11.Ctx
	module    string
	slotID    uint
	pin       string
	available []pkcs11.SessionHandle
	inUse     map[pkcs11.SessionHandle]bool
	loginDone bool
	closed    bool
}

var (
	pools   = make(map[string]*sessionPool)
	poolsMu sync.Mutex
)

func poolKey(modulePath string, slotID uint) string {
	return fmt.Sprintf("%s:%d", modulePath, slotID)
}

// openPool returns the pool for a module slot, loading and initializing the
// module on first use. There is one pool per (module, slot).
func openPool(modulePath string, slotID uint, pin string) (*sessionPool, error) {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	key := poolKey(modulePath, slotID)
	if pool, ok := pools[key]; ok {
		pool.mu.Lock()
		closed := pool.closed
		pool.mu.Unlock()
		if !closed {
			return pool, nil
		}
		delete(pools, key)
	}

	ctx, err := loadModule(modulePath)
	if err != nil {
		return nil, err
	}

	pool := &sessionPool{
		ctx:    ctx,
		module: modulePath,
		slotID: slotID,
		pin:    pin,
		inUse:  make(map[pkcs11.SessionHandle]bool),
	}
	pools[key] = pool
	return pool, nil
}

// loadModule loads and initializes a PKCS#11 library. An already
// initialized library is accepted.
func loadModule(modulePath string) (*pkcs11.Ctx, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", modulePath)
	}
	if err := ctx.Initialize(); err != nil && !isCKR(err, pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		ctx.Destroy()
		return nil, fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
	}
	return ctx, nil
}

// Acquire reserves a session. The release function MUST be called when done.
//
//	session, release, err := pool.Acquire()
//	if err != nil { return err }
//	defer release()
func (p *sessionPool) Acquire() (pkcs11.SessionHandle, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil, errors.New("session pool is closed")
	}

	var session pkcs11.SessionHandle
	if n := len(p.available); n > 0 {
		session = p.available[n-1]
		p.available = p.available[:n-1]
	} else {
		var err error
		session, err = p.ctx.OpenSession(p.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to open session: %w", err)
		}

		// Login is per token, not per session.
		if p.pin != "" && !p.loginDone {
			if err := p.ctx.Login(session, pkcs11.CKU_USER, p.pin); err != nil && !isCKR(err, pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
				_ = p.ctx.CloseSession(session)
				return 0, nil, fmt.Errorf("failed to login: %w", err)
			}
			p.loginDone = true
		}
	}

	p.inUse[session] = true

	release := func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		delete(p.inUse, session)
		if p.closed {
			_ = p.ctx.CloseSession(session)
			return
		}
		p.available = append(p.available, session)
	}

	return session, release, nil
}

// Close logs out, closes every session and finalizes the module. Session
// objects are destroyed by the token.
func (p *sessionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error

	sessions := append([]pkcs11.SessionHandle{}, p.available...)
	for s := range p.inUse {
		sessions = append(sessions, s)
	}

	if p.loginDone && len(sessions) > 0 {
		if err := p.ctx.Logout(sessions[0]); err != nil && !isCKR(err, pkcs11.CKR_USER_NOT_LOGGED_IN) {
			errs = append(errs, fmt.Errorf("logout: %w", err))
		}
	}

	for _, s := range sessions {
		if err := p.ctx.CloseSession(s); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}

	if err := p.ctx.Finalize(); err != nil && !isCKR(err, pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED) {
		errs = append(errs, fmt.Errorf("finalize: %w", err))
	}
	p.ctx.Destroy()

	poolsMu.Lock()
	delete(pools, poolKey(p.module, p.slotID))
	poolsMu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("errors closing pool: %w", errors.Join(errs...))
	}
	return nil
}

// isCKR reports whether err is the PKCS#11 return value code.
func isCKR(err error, code uint) bool {
	var p11err pkcs11.Error
	return errors.As(err, &p11err) && uint(p11err) == code
}
