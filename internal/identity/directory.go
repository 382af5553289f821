package identity

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/mmynk/splitledger/internal/models"
)

// ErrPartyNotFound is returned when a name or key does not resolve.
var ErrPartyNotFound = errors.New("party not found")

// Party is a well-known network identity.
type Party struct {
	Name    string          `toml:"name"`
	Key     models.PartyKey `toml:"public_key"`
	Address string          `toml:"address"`
}

// Resolver resolves parties by display name or key.
type Resolver interface {
	ResolveParty(name string) (Party, error)
	PartyByKey(key models.PartyKey) (Party, error)
	Parties() []Party
	Notary() Party
}

// Directory is a static network map.
type Directory struct {
	byName map[string]Party
	byKey  map[models.PartyKey]Party
	notary Party
}

var _ Resolver = (*Directory)(nil)

// NewDirectory builds a directory. Names and keys must be unique.
func NewDirectory(parties []Party, notary Party) (*Directory, error) {
	if notary.Key == "" {
		return nil, errors.New("notary key is required")
	}
	d := &Directory{
		byName: make(map[string]Party, len(parties)),
		byKey:  make(map[models.PartyKey]Party, len(parties)),
		notary: notary,
	}
	for _, p := range parties {
		if p.Name == "" || p.Key == "" {
			return nil, fmt.Errorf("party %q: name and public_key are required", p.Name)
		}
		if _, dup := d.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate party name %q", p.Name)
		}
		if _, dup := d.byKey[p.Key]; dup {
			return nil, fmt.Errorf("duplicate party key %s", p.Key)
		}
		d.byName[p.Name] = p
		d.byKey[p.Key] = p
	}
	return d, nil
}

// ResolveParty looks a party up by display name, falling back to its key.
func (d *Directory) ResolveParty(name string) (Party, error) {
	if p, ok := d.byName[name]; ok {
		return p, nil
	}
	if p, ok := d.byKey[models.PartyKey(name)]; ok {
		return p, nil
	}
	return Party{}, fmt.Errorf("%w: %s", ErrPartyNotFound, name)
}

// PartyByKey looks a party up by key.
func (d *Directory) PartyByKey(key models.PartyKey) (Party, error) {
	if p, ok := d.byKey[key]; ok {
		return p, nil
	}
	return Party{}, fmt.Errorf("%w: %s", ErrPartyNotFound, key)
}

// Parties returns all parties sorted by name.
func (d *Directory) Parties() []Party {
	parties := make([]Party, 0, len(d.byName))
	for _, p := range d.byName {
		parties = append(parties, p)
	}
	sort.Slice(parties, func(i, j int) bool { return parties[i].Name < parties[j].Name })
	return parties
}

// Notary returns the identity of the finality service.
func (d *Directory) Notary() Party {
	return d.notary
}

// networkFile is the TOML layout of a network map:
//
//	[notary]
//	name = "Notary"
//	public_key = "..."
//	address = "http://localhost:9000"
//
//	[[parties]]
//	name = "Alice"
//	public_key = "..."
//	address = "http://localhost:9001"
type networkFile struct {
	Notary  Party   `toml:"notary"`
	Parties []Party `toml:"parties"`
}

// LoadNetwork reads a TOML network map.
func LoadNetwork(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network file: %w", err)
	}
	var nf networkFile
	if _, err := toml.Decode(string(data), &nf); err != nil {
		return nil, fmt.Errorf("failed to parse network file: %w", err)
	}
	return NewDirectory(nf.Parties, nf.Notary)
}
