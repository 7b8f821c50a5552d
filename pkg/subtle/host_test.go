package subtle

import (
	"errors"
	"fmt"
)

// hostCall records one invocation of stubHost.
type hostCall struct {
	Op          string
	KeyName     string
	AlgoID      uint32
	Metadata    string
	Payload     []byte
	Extractable bool
	Usages      []uint8
	Extra       []any
}

// stubHost records every call and answers from its fields.
type stubHost struct {
	calls []hostCall

	exists    map[string]bool
	keyReply  string
	bytes     []byte
	valid     bool
	err       error
	persisted [][]byte
}

var _ Host = (*stubHost)(nil)

func (h *stubHost) record(c hostCall) {
	h.calls = append(h.calls, c)
}

func (h *stubHost) last() hostCall {
	if len(h.calls) == 0 {
		return hostCall{}
	}
	return h.calls[len(h.calls)-1]
}

func (h *stubHost) ops() []string {
	ops := make([]string, 0, len(h.calls))
	for _, c := range h.calls {
		ops = append(ops, c.Op)
	}
	return ops
}

func (h *stubHost) KeyExists(name string) (bool, error) {
	h.record(hostCall{Op: "key_exists", KeyName: name})
	return h.exists[name], h.err
}

func (h *stubHost) GenerateKey(name string, algoID uint32, metadata string, extractable bool, usages []uint8) ([]byte, error) {
	h.record(hostCall{Op: "generate_key", KeyName: name, AlgoID: algoID, Metadata: metadata, Extractable: extractable, Usages: usages})
	return []byte(h.keyReply), h.err
}

func (h *stubHost) Encrypt(keyName string, algoID uint32, metadata string, plaintext []byte) ([]byte, error) {
	h.record(hostCall{Op: "encrypt", KeyName: keyName, AlgoID: algoID, Metadata: metadata, Payload: plaintext})
	return h.bytes, h.err
}

func (h *stubHost) Decrypt(keyName string, algoID uint32, metadata string, ciphertext []byte) ([]byte, error) {
	h.record(hostCall{Op: "decrypt", KeyName: keyName, AlgoID: algoID, Metadata: metadata, Payload: ciphertext})
	return h.bytes, h.err
}

func (h *stubHost) Sign(keyName string, algoID uint32, metadata string, data []byte) ([]byte, error) {
	h.record(hostCall{Op: "sign", KeyName: keyName, AlgoID: algoID, Metadata: metadata, Payload: data})
	return h.bytes, h.err
}

func (h *stubHost) Verify(keyName string, algoID uint32, metadata string, data, signature []byte) (bool, error) {
	h.record(hostCall{Op: "verify", KeyName: keyName, AlgoID: algoID, Metadata: metadata, Payload: data, Extra: []any{signature}})
	return h.valid, h.err
}

func (h *stubHost) Digest(algoID uint32, metadata string, data []byte) ([]byte, error) {
	h.record(hostCall{Op: "digest", AlgoID: algoID, Metadata: metadata, Payload: data})
	return h.bytes, h.err
}

func (h *stubHost) ImportKey(keyName string, format uint32, keyData []byte, algoID uint32, metadata string, extractable bool, usages []uint8) ([]byte, error) {
	h.record(hostCall{Op: "import_key", KeyName: keyName, AlgoID: algoID, Metadata: metadata, Payload: keyData,
		Extractable: extractable, Usages: usages, Extra: []any{format}})
	return []byte(h.keyReply), h.err
}

func (h *stubHost) ExportKey(keyName string, format uint32) ([]byte, error) {
	h.record(hostCall{Op: "export_key", KeyName: keyName, Extra: []any{format}})
	return h.bytes, h.err
}

func (h *stubHost) WrapKey(keyName string, format uint32, wrappingKeyName string, algoID uint32, metadata string) ([]byte, error) {
	h.record(hostCall{Op: "wrap_key", KeyName: keyName, AlgoID: algoID, Metadata: metadata, Extra: []any{format, wrappingKeyName}})
	return h.bytes, h.err
}

func (h *stubHost) UnwrapKey(unwrappingKeyName string, wrapAlgoID uint32, wrapMetadata string, keyName string, format uint32,
	wrappedKey []byte, keyAlgoID uint32, keyMetadata string, extractable bool, usages []uint8) ([]byte, error) {
	h.record(hostCall{Op: "unwrap_key", KeyName: unwrappingKeyName, AlgoID: wrapAlgoID, Metadata: wrapMetadata,
		Payload: wrappedKey, Extractable: extractable, Usages: usages, Extra: []any{keyName, format, keyAlgoID, keyMetadata}})
	return []byte(h.keyReply), h.err
}

func (h *stubHost) GetPublicKey(keyName string) ([]byte, error) {
	h.record(hostCall{Op: "get_public_key", KeyName: keyName})
	return h.bytes, h.err
}

func (h *stubHost) GetPublicKeyAsCryptoKey(keyName string) (string, error) {
	h.record(hostCall{Op: "get_public_key_as_crypto_key", KeyName: keyName})
	return h.keyReply, h.err
}

func (h *stubHost) DeriveKey(baseKeyName string, deriveAlgoID uint32, deriveMetadata string,
	derivedAlgoID uint32, derivedMetadata string, extractable bool, usages []uint8) (string, error) {
	h.record(hostCall{Op: "derive_key", KeyName: baseKeyName, AlgoID: deriveAlgoID, Metadata: deriveMetadata,
		Extractable: extractable, Usages: usages, Extra: []any{derivedAlgoID, derivedMetadata}})
	return h.keyReply, h.err
}

func (h *stubHost) SaveKey(name string) error {
	h.record(hostCall{Op: "save_key", KeyName: name})
	return h.err
}

func (h *stubHost) PersistKey(params []byte) error {
	h.record(hostCall{Op: "persist_key", Payload: params})
	h.persisted = append(h.persisted, params)
	return h.err
}

func (h *stubHost) LoadKey(name string) (string, error) {
	h.record(hostCall{Op: "load_key", KeyName: name})
	return h.keyReply, h.err
}

func (h *stubHost) DeleteKey(name string) error {
	h.record(hostCall{Op: "delete_key", KeyName: name})
	return h.err
}

func (h *stubHost) GetRandomBytes(n int) ([]byte, error) {
	h.record(hostCall{Op: "get_random_bytes", Extra: []any{n}})
	return h.bytes, h.err
}

// panicHost fails the test through a panic if any host capability is
// reached. Used to prove that validation happens before the boundary.
type panicHost struct{}

var _ Host = panicHost{}

var errUnexpectedHostCall = errors.New("unexpected host call")

func boom(op string) {
	panic(fmt.Errorf("%w: %s", errUnexpectedHostCall, op))
}

func (panicHost) KeyExists(string) (bool, error) { boom("key_exists"); return false, nil }
func (panicHost) GenerateKey(string, uint32, string, bool, []uint8) ([]byte, error) {
	boom("generate_key")
	return nil, nil
}
func (panicHost) Encrypt(string, uint32, string, []byte) ([]byte, error) {
	boom("encrypt")
	return nil, nil
}
func (panicHost) Decrypt(string, uint32, string, []byte) ([]byte, error) {
	boom("decrypt")
	return nil, nil
}
func (panicHost) Sign(string, uint32, string, []byte) ([]byte, error) { boom("sign"); return nil, nil }
func (panicHost) Verify(string, uint32, string, []byte, []byte) (bool, error) {
	boom("verify")
	return false, nil
}
func (panicHost) Digest(uint32, string, []byte) ([]byte, error) { boom("digest"); return nil, nil }
func (panicHost) ImportKey(string, uint32, []byte, uint32, string, bool, []uint8) ([]byte, error) {
	boom("import_key")
	return nil, nil
}
func (panicHost) ExportKey(string, uint32) ([]byte, error) { boom("export_key"); return nil, nil }
func (panicHost) WrapKey(string, uint32, string, uint32, string) ([]byte, error) {
	boom("wrap_key")
	return nil, nil
}
func (panicHost) UnwrapKey(string, uint32, string, string, uint32, []byte, uint32, string, bool, []uint8) ([]byte, error) {
	boom("unwrap_key")
	return nil, nil
}
func (panicHost) GetPublicKey(string) ([]byte, error) { boom("get_public_key"); return nil, nil }
func (panicHost) GetPublicKeyAsCryptoKey(string) (string, error) {
	boom("get_public_key_as_crypto_key")
	return "", nil
}
func (panicHost) DeriveKey(string, uint32, string, uint32, string, bool, []uint8) (string, error) {
	boom("derive_key")
	return "", nil
}
func (panicHost) SaveKey(string) error               { boom("save_key"); return nil }
func (panicHost) PersistKey([]byte) error            { boom("persist_key"); return nil }
func (panicHost) LoadKey(string) (string, error)     { boom("load_key"); return "", nil }
func (panicHost) DeleteKey(string) error             { boom("delete_key"); return nil }
func (panicHost) GetRandomBytes(int) ([]byte, error) { boom("get_random_bytes"); return nil, nil }
