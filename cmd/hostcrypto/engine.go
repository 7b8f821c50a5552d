package main

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/remiblancher/hostcrypto/internal/config"
	"github.com/remiblancher/hostcrypto/internal/engine/pkcs11"
	"github.com/remiblancher/hostcrypto/internal/engine/soft"
	"github.com/remiblancher/hostcrypto/internal/hostrpc"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

var (
	engineMu    sync.Mutex
	engineHost  subtle.Host
	engineClose func() error

	// serving is set while the serve command owns signal handling.
	serving atomic.Bool
)

// openEngine builds the engine selected by ec.
func openEngine(ec config.EngineConfig) (subtle.Host, func() error, error) {
	noop := func() error { return nil }

	switch ec.Type {
	case config.EngineSoft:
		var store soft.Store
		if ec.Soft.StoreDir != "" {
			fs, err := soft.NewFileStore(ec.Soft.StoreDir)
			if err != nil {
				return nil, nil, err
			}
			store = fs
		}
		return soft.New(store), noop, nil

	case config.EnginePKCS11:
		eng, err := pkcs11.New(ec.PKCS11)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open PKCS#11 engine: %w", err)
		}
		return eng, eng.Close, nil

	case config.EngineRemote:
		c, err := hostrpc.NewClient(ec.Remote.Client())
		if err != nil {
			return nil, nil, err
		}
		return c, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown engine type: %s", ec.Type)
}

// host returns the configured engine, opening it on first use.
func host() (subtle.Host, error) {
	engineMu.Lock()
	defer engineMu.Unlock()

	if engineHost != nil {
		return engineHost, nil
	}
	h, closeFn, err := openEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("engine", cfg.Engine.Type).Msg("engine opened")
	engineHost, engineClose = h, closeFn
	return h, nil
}

// client returns a subtle client over the configured engine.
func client() (*subtle.Client, error) {
	h, err := host()
	if err != nil {
		return nil, err
	}
	return subtle.New(h), nil
}

// closeEngine releases the engine, if one was opened.
func closeEngine() {
	engineMu.Lock()
	defer engineMu.Unlock()

	if engineClose != nil {
		if err := engineClose(); err != nil {
			log.Warn().Err(err).Msg("failed to close engine")
		}
	}
	engineHost, engineClose = nil, nil
}
