// Package asset resolves compact (exchange, ticker) references to full
// instruments through a SQLite index derived from the candle store, and
// holds the ordered asset lists a backtest runs over.
package asset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"arbat/internal/domain"
)

// ListExt is the extension of asset list files.
const ListExt = ".al"

// List is an ordered collection of asset references. Order is significant
// and duplicates are allowed; equality of entries is by (exchange, class,
// ticker).
type List struct {
	refs []domain.AssetRef
}

// NewList creates a List from the given references, preserving order.
func NewList(refs ...domain.AssetRef) *List {
	return &List{refs: append([]domain.AssetRef(nil), refs...)}
}

// Len returns the number of entries.
func (l *List) Len() int { return len(l.refs) }

// Refs returns the entries in order. The slice is shared; callers must not
// mutate it.
func (l *List) Refs() []domain.AssetRef { return l.refs }

// Add appends a reference to the end of the list.
func (l *List) Add(ref domain.AssetRef) { l.refs = append(l.refs, ref) }

// Remove deletes the first entry equal to ref and reports whether one was
// found.
func (l *List) Remove(ref domain.AssetRef) bool {
	for i, r := range l.refs {
		if r == ref {
			l.refs = append(l.refs[:i], l.refs[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether the list holds an entry equal to ref.
func (l *List) Contains(ref domain.AssetRef) bool {
	for _, r := range l.refs {
		if r == ref {
			return true
		}
	}
	return false
}

// Clear removes all entries.
func (l *List) Clear() { l.refs = l.refs[:0] }

// MarshalJSON renders the list as a plain ordered array of references.
func (l *List) MarshalJSON() ([]byte, error) {
	refs := l.refs
	if refs == nil {
		refs = []domain.AssetRef{}
	}
	return json.Marshal(refs)
}

// UnmarshalJSON replaces the list contents with the decoded array.
func (l *List) UnmarshalJSON(data []byte) error {
	var refs []domain.AssetRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return err
	}
	l.refs = refs
	return nil
}

// Save writes the list to path in its JSON form via temp-and-rename.
func (l *List) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: creating list dir: %v", domain.ErrIO, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: writing asset list: %v", domain.ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: replacing asset list: %v", domain.ErrIO, err)
	}
	return nil
}

// LoadList reads an asset list file written by Save.
func LoadList(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading asset list: %v", domain.ErrIO, err)
	}
	l := &List{}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("parsing asset list %s: %w", path, err)
	}
	return l, nil
}
