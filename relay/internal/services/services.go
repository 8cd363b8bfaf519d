package services

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vauchi-app/core/pkg/attest"
	"github.com/vauchi-app/core/pkg/fingerprint"
	"github.com/vauchi-app/core/relay/internal/config"
	"github.com/vauchi-app/core/relay/internal/model"
	"github.com/vauchi-app/core/relay/internal/storage"
)

const attestationKeyName = "attestation"

var attestNS = model.NewNameSpace("attest")

type Service struct {
	store    model.Store
	attester attest.Attester
	cfg      config.Config
	buckets  *tokenBuckets
}

func New(store *storage.Store, cfg config.Config) (*Service, error) {
	at, err := loadAttest(store, cfg.Server.Identity)
	if err != nil {
		return nil, fmt.Errorf("loading attester: %w", err)
	}
	fp := strings.Join(fingerprint.Emoji(at.PublicKey().Marshal()), " • ")
	slog.Info("loaded identity", slog.String("fingerprint", fp))
	return &Service{store: store, attester: at, cfg: cfg, buckets: newTokenBuckets()}, nil
}

func loadAttest(
	store *storage.Store, algorithm attest.Algorithm,
) (attest.Attester, error) {
	var at attest.Attester
	err := store.Command(func(c model.Command) error {
		attestBytes, err := c.Get(attestNS, []byte(attestationKeyName))
		if err != nil {
			return fmt.Errorf("getting data from storage: %w", err)
		}
		at, err = algorithm.Load(attestBytes)
		if err != nil {
			return fmt.Errorf("parsing data: %w", err)
		}
		return nil
	})
	switch {
	case err == nil:
		return at, nil
	case errors.Is(err, storage.ErrMissing):
		slog.Warn("no identity found, creating a new one...")
		// continue
	default:
		return nil, fmt.Errorf("command: %w", err)
	}

	at, err = algorithm.NewAttest()
	if err != nil {
		return nil, fmt.Errorf("creating new attester: %w", err)
	}
	data, err := at.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshalling attester: %w", err)
	}
	err = store.Command(func(c model.Command) error {
		return c.Set(attestNS, []byte(attestationKeyName), data)
	})
	if err != nil {
		return nil, fmt.Errorf("storing attester: %w", err)
	}

	return at, nil
}
