// Package credentials reads the token store maintained by the external
// credential tool. The gateway only ever reads it; adding or rotating
// tokens is the tool's job.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Store maps an account and token alias to a secret token.
type Store interface {
	// Aliases returns the token aliases configured for an account,
	// sorted. An unknown account yields an empty slice.
	Aliases(account string) ([]string, error)

	// Resolve returns the token stored for account under alias.
	Resolve(account, alias string) (string, error)
}

// ErrAliasNotFound is returned when an account has no token under the
// requested alias.
var ErrAliasNotFound = fmt.Errorf("token alias not found")

// FileStore reads credentials from a JSON file of the form
// {"account": {"alias": "token"}}. The file is re-read on every lookup
// so rotations by the external tool take effect without a restart.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (map[string]map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]map[string]string{}, nil
		}
		return nil, fmt.Errorf("read token store: %w", err)
	}

	var records map[string]map[string]string
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse token store: %w", err)
	}
	return records, nil
}

// Aliases implements Store.
func (s *FileStore) Aliases(account string) ([]string, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}

	tokens := records[account]
	aliases := make([]string, 0, len(tokens))
	for alias := range tokens {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases, nil
}

// Resolve implements Store.
func (s *FileStore) Resolve(account, alias string) (string, error) {
	records, err := s.load()
	if err != nil {
		return "", err
	}

	token, ok := records[account][alias]
	if !ok {
		return "", ErrAliasNotFound
	}
	return token, nil
}
