package authservice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jp-673/isktreon/internal/app"
)

// VerifierKey is the storage key of the persisted PKCE record.
const VerifierKey = "eve_pkce_verifier"

// verifierRecord is the PKCE secret of a pending login.
type verifierRecord struct {
	Verifier  string    `json:"verifier"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *AuthService) saveVerifier(ctx context.Context, r verifierRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if err := s.st.SetDictEntry(ctx, VerifierKey, data); err != nil {
		return fmt.Errorf("save verifier: %w", err)
	}
	return nil
}

// loadVerifier returns the persisted record or [app.ErrMissingVerifier] when there is none.
func (s *AuthService) loadVerifier(ctx context.Context) (verifierRecord, error) {
	data, found, err := s.st.GetDictEntry(ctx, VerifierKey)
	if err != nil {
		return verifierRecord{}, fmt.Errorf("load verifier: %w: %w", app.ErrMissingVerifier, err)
	}
	if !found {
		return verifierRecord{}, app.ErrMissingVerifier
	}
	var r verifierRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return verifierRecord{}, fmt.Errorf("load verifier: %w: %w", app.ErrMissingVerifier, err)
	}
	if r.Verifier == "" {
		return verifierRecord{}, fmt.Errorf("load verifier: empty: %w", app.ErrMissingVerifier)
	}
	return r, nil
}

func (s *AuthService) clearVerifier(ctx context.Context) error {
	if err := s.st.DeleteDictEntry(ctx, VerifierKey); err != nil {
		return fmt.Errorf("clear verifier: %w", err)
	}
	return nil
}
