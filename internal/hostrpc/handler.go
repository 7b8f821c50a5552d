package hostrpc

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/remiblancher/hostcrypto/internal/engine"
	"github.com/remiblancher/hostcrypto/pkg/subtle"
)

// maxBodySize bounds a request body.
const maxBodySize = 16 << 20

// operation runs one host call.
type operation func(h subtle.Host, c *Call) (*Result, error)

var operations = map[string]operation{
	OpKeyExists: func(h subtle.Host, c *Call) (*Result, error) {
		ok, err := h.KeyExists(c.KeyName)
		return &Result{OK: ok}, err
	},
	OpGenerateKey: func(h subtle.Host, c *Call) (*Result, error) {
		data, err := h.GenerateKey(c.KeyName, c.AlgoID, c.Metadata, c.Extractable, c.Usages)
		return &Result{Data: data}, err
	},
	OpEncrypt: func(h subtle.Host, c *Call) (*Result, error) {
		data, err := h.Encrypt(c.KeyName, c.AlgoID, c.Metadata, c.Data)
		return &Result{Data: data}, err
	},
	OpDecrypt: func(h subtle.Host, c *Call) (*Result, error) {
		data, err := h.Decrypt(c.KeyName, c.AlgoID, c.Metadata, c.Data)
		return &Result{Data: data}, err
	},
	OpSign: func(h subtle.Host, c *Call) (*Result, error) {
		data, err := h.Sign(c.KeyName, c.AlgoID, c.Metadata, c.Data)
		return &Result{Data: data}, err
	},
	OpVerify: func(h subtle.Host, c *Call) (*Result, error) {
		ok, err := h.Verify(c.KeyName, c.AlgoID, c.Metadata, c.Data, c.Signature)
		return &Result{OK: ok}, err
	},
	OpDigest: func(h subtle.Host, c *Call) (*Result, error) {
		data, err := h.Digest(c.AlgoID, c.Metadata, c.Data)
		return &Result{Data: data}, err
	},
	OpImportKey: func(h subtle.Host, c *Call) (*Result, error) {
		data, err := h.ImportKey(c.KeyName, c.Format, c.Data, c.AlgoID, c.Metadata, c.Extractable, c.Usages)
		return &Result{Data: data}, err
	},
	OpExportKey: func(h subtle.Host, c *Call) (*Result, error) {
		data, err := h.ExportKey(c.KeyName, c.Format)
		return &Result{Data: data}, err
	},
	OpWrapKey: func(h subtle.Host, c *Call) (*Result, error) {
		data, err := h.WrapKey(c.KeyName, c.Format, c.OtherKey, c.AlgoID, c.Metadata)
		return &Result{Data: data}, err
	},
	OpUnwrapKey: func(h subtle.Host, c *Call) (*Result, error) {
		data, err := h.UnwrapKey(c.OtherKey, c.AlgoID, c.Metadata, c.KeyName, c.Format,
			c.Data, c.KeyAlgoID, c.KeyMetadata, c.Extractable, c.Usages)
		return &Result{Data: data}, err
	},
	OpGetPublicKey: func(h subtle.Host, c *Call) (*Result, error) {
		data, err := h.GetPublicKey(c.KeyName)
		return &Result{Data: data}, err
	},
	OpGetPublicKeyAsCryptoKey: func(h subtle.Host, c *Call) (*Result, error) {
		text, err := h.GetPublicKeyAsCryptoKey(c.KeyName)
		return &Result{Text: text}, err
	},
	OpDeriveKey: func(h subtle.Host, c *Call) (*Result, error) {
		text, err := h.DeriveKey(c.KeyName, c.AlgoID, c.Metadata, c.KeyAlgoID, c.KeyMetadata, c.Extractable, c.Usages)
		return &Result{Text: text}, err
	},
	OpSaveKey: func(h subtle.Host, c *Call) (*Result, error) {
		return &Result{}, h.SaveKey(c.KeyName)
	},
	OpPersistKey: func(h subtle.Host, c *Call) (*Result, error) {
		return &Result{}, h.PersistKey(c.Data)
	},
	OpLoadKey: func(h subtle.Host, c *Call) (*Result, error) {
		text, err := h.LoadKey(c.KeyName)
		return &Result{Text: text}, err
	},
	OpDeleteKey: func(h subtle.Host, c *Call) (*Result, error) {
		return &Result{}, h.DeleteKey(c.KeyName)
	},
	OpGetRandomBytes: func(h subtle.Host, c *Call) (*Result, error) {
		if err := engine.CheckRandomLength(c.Length); err != nil {
			return nil, err
		}
		data, err := h.GetRandomBytes(c.Length)
		return &Result{Data: data}, err
	},
}

// HostHandler serves host operations from a backend engine.
type HostHandler struct {
	host subtle.Host
}

// NewHostHandler creates a new HostHandler.
func NewHostHandler(host subtle.Host) *HostHandler {
	return &HostHandler{host: host}
}

// Call handles POST /v1/host/{operation}.
func (h *HostHandler) Call(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operation")
	op, ok := operations[name]
	if !ok {
		respondError(w, http.StatusNotFound, &APIError{
			Code:    CodeUnknownOperation,
			Message: "unknown host operation",
			Details: map[string]string{"operation": name},
		})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, NewBadRequest("failed to read request body: "+err.Error()))
		return
	}
	var call Call
	if len(body) > 0 {
		if err := Unmarshal(body, &call); err != nil {
			respondError(w, http.StatusBadRequest, NewBadRequest("invalid CBOR body: "+err.Error()))
			return
		}
	}

	res, err := op(h.host, &call)
	if err != nil {
		status, apiErr := MapError(err)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("operation", name).Str("request_id", RequestIDFrom(r.Context())).Msg("host operation failed")
		}
		respondError(w, status, apiErr)
		return
	}
	respondCBOR(w, http.StatusOK, res)
}

// HealthHandler handles health and readiness endpoints.
type HealthHandler struct {
	version string
	engine  string
	host    subtle.Host
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(version, engine string, host subtle.Host) *HealthHandler {
	return &HealthHandler{
		version: version,
		engine:  engine,
		host:    host,
	}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.version,
		Engine:  h.engine,
	})
}

// Ready handles GET /ready. The engine is ready when it hands out a random
// byte.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	_, err := h.host.GetRandomBytes(1)
	checks := map[string]bool{
		"server": true,
		"engine": err == nil,
	}

	allReady := true
	for _, ready := range checks {
		if !ready {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, ReadyResponse{Ready: allReady, Checks: checks})
}

// respondCBOR writes a CBOR response.
func respondCBOR(w http.ResponseWriter, status int, v any) {
	data, err := Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// respondError writes an error response.
func respondError(w http.ResponseWriter, status int, apiErr *APIError) {
	respondCBOR(w, status, apiErr)
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
