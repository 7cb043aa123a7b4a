package session

import (
	"encoding/json"
	"io"
	"os"

	"github.com/maruel/xlsedit/internal/fsutil"
)

// Codec reads and writes session state files.
type Codec interface {
	// Read returns an error wrapping os.ErrNotExist when path is absent.
	Read(path string) (State, error)
	Write(path string, s State) error
}

// JSONCodec stores the state as indented JSON, replaced atomically.
type JSONCodec struct{}

// Read implements [Codec].
func (JSONCodec) Read(path string) (State, error) {
	var s State
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(b, &s)
	return s, err
}

// Write implements [Codec].
func (JSONCodec) Write(path string, s State) error {
	return fsutil.WriteFile(path, 0o600, func(w io.Writer) error {
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(&s)
	})
}
