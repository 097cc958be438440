// Package image stores assembled modules as msgpack images and caches
// them on disk keyed by the hash of their source.
package image

import (
	"errors"
	"fmt"
	"io"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"

	"xvm/internal/asm"
)

// SchemaVersion is bumped whenever the payload layout changes. Images
// written with another version are rejected.
const SchemaVersion uint16 = 1

// Ext is the file extension of module images.
const Ext = ".xvmi"

// ErrSchema reports an image written by another schema version.
var ErrSchema = errors.New("image: schema version mismatch")

type payload struct {
	Schema    uint16            `msgpack:"schema"`
	Name      string            `msgpack:"name"`
	Consts    uint32            `msgpack:"nconst"`
	Pool      []asm.Constant    `msgpack:"pool"`
	Classes   []*asm.ClassDecl  `msgpack:"classes"`
	Functions []*asm.MethodBody `msgpack:"functions"`
}

// Encode writes mod to w.
func Encode(w io.Writer, mod *asm.Module) error {
	consts := mod.Pool.Constants()
	n, err := safecast.Conv[uint32](len(consts))
	if err != nil {
		return fmt.Errorf("image: %s: constant pool too large: %w", mod.Name, err)
	}
	p := payload{
		Schema:    SchemaVersion,
		Name:      mod.Name,
		Consts:    n,
		Pool:      consts,
		Classes:   mod.Classes,
		Functions: mod.Functions,
	}
	return msgpack.NewEncoder(w).Encode(&p)
}

// Decode reads an image from r. Every method body is validated again
// against the decoded pool, so a corrupt image never reaches the runtime.
func Decode(r io.Reader) (*asm.Module, error) {
	var p payload
	if err := msgpack.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	if p.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchema, p.Schema, SchemaVersion)
	}
	n, err := safecast.Conv[int](p.Consts)
	if err != nil || n != len(p.Pool) {
		return nil, fmt.Errorf("image: %s: pool holds %d constants, header says %d", p.Name, len(p.Pool), p.Consts)
	}
	mod := &asm.Module{
		Name:      p.Name,
		Pool:      asm.PoolOf(p.Pool),
		Classes:   p.Classes,
		Functions: p.Functions,
	}
	mod.Pool.Freeze()

	var errs []error
	for _, c := range mod.Classes {
		if c == nil {
			return nil, fmt.Errorf("image: %s: empty class entry", p.Name)
		}
		for _, pd := range c.Props {
			if pd.Init != asm.NoConst && !mod.Pool.Valid(pd.Init) {
				errs = append(errs, fmt.Errorf("%s.%s: initial value #%d out of range", c.Name, pd.Name, pd.Init))
			}
		}
	}
	for _, body := range mod.Bodies() {
		if body == nil {
			return nil, fmt.Errorf("image: %s: empty method entry", p.Name)
		}
		for _, be := range asm.Validate(body, mod.Pool) {
			errs = append(errs, be)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("image: %s: %w", p.Name, errors.Join(errs...))
	}
	return mod, nil
}
