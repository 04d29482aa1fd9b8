package memory

import (
	"github.com/MrEthical07/goGuard/backend"
)

var (
	_ backend.CredentialStore = (*Credentials)(nil)
	_ backend.RowStore        = (*Rows)(nil)
	_ backend.UserDirectory   = (*Credentials)(nil)
)

// Open returns the stand-in backend. With SeedMockUsers the row store gets
// matching role rows and profiles.
func Open(cfg Config) (backend.Backend, *Credentials, *Rows, error) {
	creds, err := NewCredentials(cfg)
	if err != nil {
		return backend.Backend{}, nil, nil, err
	}
	rows := NewRows()
	if cfg.SeedMockUsers {
		rows.SeedMockRows(creds.cfg.Now())
	}
	return backend.Backend{
		Credentials: creds,
		Rows:        rows,
		Mock:        true,
		Close:       func() error { return nil },
	}, creds, rows, nil
}
