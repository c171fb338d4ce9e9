package storage

import "github.com/waddle-social/waddle/auth"

// CredentialAdapter exposes a Repository as an auth.CredentialStore, the
// narrower lookup surface the SASL authenticators depend on instead of
// the full storage.Repository.
type CredentialAdapter struct {
	Repo Repository
}

var _ auth.CredentialStore = (*CredentialAdapter)(nil)

func (c *CredentialAdapter) FetchSCRAMCredential(username string) (auth.SCRAMCredential, bool, error) {
	u, err := c.Repo.FetchUser(username)
	if err != nil {
		return auth.SCRAMCredential{}, false, err
	}
	if u == nil {
		return auth.SCRAMCredential{}, false, nil
	}
	return auth.SCRAMCredential{
		Salt:       u.SCRAMSalt,
		Iterations: u.SCRAMIterations,
		StoredKey:  u.SCRAMStoredKey,
		ServerKey:  u.SCRAMServerKey,
	}, true, nil
}

func (c *CredentialAdapter) VerifyPlainPassword(username, password string) (bool, error) {
	u, err := c.Repo.FetchUser(username)
	if err != nil || u == nil {
		return false, err
	}
	cred := auth.DeriveSCRAMCredential(password, u.SCRAMSalt, u.SCRAMIterations)
	return string(cred.StoredKey) == string(u.SCRAMStoredKey), nil
}

func (c *CredentialAdapter) ResolveBridgeToken(token string) (string, bool, error) {
	return c.Repo.RedeemBridgeToken(token)
}
