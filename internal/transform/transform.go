// Package transform implements the optional payload pipeline applied to
// files in transit: gzip compression and AES-256-GCM encryption. Outbound
// files are compressed then encrypted; inbound files are decrypted then
// decompressed, always in the reverse order.
package transform

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/dl-alexandre/cloudsync/internal/logging"
	"github.com/dl-alexandre/cloudsync/internal/utils"
)

const (
	kdfIterations = 100000
	kdfKeyLen     = 32
)

// transformSalt is fixed so any process with the same secret can undo
// the pipeline.
var transformSalt = []byte("cloudsync-transform-salt")

// Options selects which stages the pipeline applies
type Options struct {
	Compress bool
	Encrypt  bool
	// Secret is the passphrase encryption keys are derived from. Required
	// when Encrypt is set.
	Secret string
}

// Pipeline applies the configured stages to whole files
type Pipeline struct {
	compress bool
	encrypt  bool
	key      []byte
	logger   logging.Logger
}

// New creates a pipeline. An encryption stage without a secret is a
// configuration error.
func New(opts Options, logger logging.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	p := &Pipeline{compress: opts.Compress, encrypt: opts.Encrypt, logger: logger}
	if opts.Encrypt {
		if opts.Secret == "" {
			return nil, utils.NewAppError(utils.ErrCodeConfigInvalid,
				"encryption enabled without a secret").Build()
		}
		p.key = pbkdf2.Key([]byte(opts.Secret), transformSalt, kdfIterations, kdfKeyLen, sha256.New)
	}
	return p, nil
}

// Active reports whether any stage is enabled
func (p *Pipeline) Active() bool {
	return p.compress || p.encrypt
}

// Outbound stages a local file for upload, returning the path of the
// transformed copy and a cleanup function. When no stage is enabled the
// original path is returned with a no-op cleanup.
func (p *Pipeline) Outbound(localPath string) (string, func(), error) {
	if !p.Active() {
		return localPath, func() {}, nil
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", nil, err
	}
	if p.compress {
		data, err = gzipBytes(data)
		if err != nil {
			return "", nil, fmt.Errorf("compression failed: %w", err)
		}
	}
	if p.encrypt {
		data, err = p.seal(data)
		if err != nil {
			return "", nil, fmt.Errorf("encryption failed: %w", err)
		}
	}
	return writeStaged("cloudsync-out-*", data)
}

// Inbound reverses the pipeline on a downloaded file, returning the path
// of the restored copy and a cleanup function.
func (p *Pipeline) Inbound(stagedPath string) (string, func(), error) {
	if !p.Active() {
		return stagedPath, func() {}, nil
	}

	data, err := os.ReadFile(stagedPath)
	if err != nil {
		return "", nil, err
	}
	if p.encrypt {
		data, err = p.open(data)
		if err != nil {
			return "", nil, fmt.Errorf("decryption failed: %w", err)
		}
	}
	if p.compress {
		data, err = gunzipBytes(data)
		if err != nil {
			return "", nil, fmt.Errorf("decompression failed: %w", err)
		}
	}
	return writeStaged("cloudsync-in-*", data)
}

func (p *Pipeline) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *Pipeline) open(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

func writeStaged(pattern string, data []byte) (string, func(), error) {
	tmp, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	path := tmp.Name()
	return path, func() { os.Remove(path) }, nil
}
