package connector

import (
	"net/http"
	"time"

	"github.com/dl-alexandre/cloudsync/internal/credstore"
	"github.com/dl-alexandre/cloudsync/internal/ingest"
	"github.com/dl-alexandre/cloudsync/internal/logging"
)

const defaultHTTPTimeout = 30 * time.Second

// Deps carries the collaborators a connector needs. Everything is
// injected; connectors hold no ambient state.
type Deps struct {
	Store      *credstore.Store
	Sink       ingest.Sink
	Logger     logging.Logger
	HTTPClient *http.Client
}

func (d Deps) normalized() Deps {
	if d.Logger == nil {
		d.Logger = logging.NewNopLogger()
	}
	if d.Sink == nil {
		d.Sink = ingest.NewMemorySink()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return d
}

// base holds the credential lifecycle shared by all connectors
type base struct {
	id     string
	store  *credstore.Store
	sink   ingest.Sink
	logger logging.Logger
	client *http.Client
	creds  *credstore.Credentials
}

func newBase(id string, deps Deps) base {
	deps = deps.normalized()
	b := base{
		id:     id,
		store:  deps.Store,
		sink:   deps.Sink,
		logger: deps.Logger,
		client: deps.HTTPClient,
	}
	// A corrupted or missing credential load means not connected, never a
	// construction failure.
	if b.store != nil {
		if creds, err := b.store.LoadCredentials(id); err == nil {
			b.creds = creds
		}
	}
	return b
}

func (b *base) ID() string {
	return b.id
}

// Status derives the connection state; it is never stored
func (b *base) Status() Status {
	if b.creds == nil {
		return StatusNotConnected
	}
	if b.creds.IsExpired() {
		return StatusExpired
	}
	return StatusConnected
}

// Credentials returns the in-memory credential record, which may be nil
func (b *base) Credentials() *credstore.Credentials {
	return b.creds
}

func (b *base) storeCredentials(creds map[string]string, expiresAt *time.Time) error {
	if b.store == nil {
		b.creds = &credstore.Credentials{
			ConnectorID: b.id,
			Credentials: creds,
			ExpiresAt:   expiresAt,
			CreatedAt:   time.Now(),
		}
		return nil
	}
	if err := b.store.StoreCredentials(b.id, creds, expiresAt); err != nil {
		return err
	}
	loaded, err := b.store.LoadCredentials(b.id)
	if err != nil {
		return err
	}
	b.creds = loaded
	return nil
}

// updateCredentialField rewrites one field (e.g. a refreshed access
// token) and re-persists the record.
func (b *base) updateCredentialField(key, value string) {
	if b.creds == nil {
		return
	}
	if b.creds.Credentials == nil {
		b.creds.Credentials = make(map[string]string)
	}
	b.creds.Credentials[key] = value
	if b.store != nil {
		if err := b.store.UpdateCredentials(b.id, b.creds); err != nil {
			b.logger.Error("failed to persist refreshed credentials",
				logging.F("connector_id", b.id), logging.Err(err))
		}
	}
}

func (b *base) touchLastUsed() {
	if b.creds == nil {
		return
	}
	now := time.Now()
	b.creds.LastUsed = &now
	if b.store != nil {
		if err := b.store.UpdateCredentials(b.id, b.creds); err != nil {
			b.logger.Debug("failed to update last-used timestamp",
				logging.F("connector_id", b.id), logging.Err(err))
		}
	}
}

// clearCredentials removes stored credentials on disconnect
func (b *base) clearCredentials() error {
	b.creds = nil
	if b.store == nil {
		return nil
	}
	return b.store.DeleteCredentials(b.id)
}

// ingestContent forwards fetched content to the ingestion sink
func (b *base) ingestContent(collection, itemID, content string) error {
	if err := b.sink.Ingest(collection, itemID, content); err != nil {
		b.logger.Error("failed to ingest content",
			logging.F("connector_id", b.id), logging.F("item_id", itemID), logging.Err(err))
		return err
	}
	b.logger.Debug("ingested content",
		logging.F("connector_id", b.id), logging.F("item_id", itemID), logging.F("collection", collection))
	return nil
}
