// Package feed reads provider snapshots from disk and turns the difference
// between two snapshots into engine events.
//
// A snapshot is the complete observed provider state: every account and,
// for accounts with a roster, every contact. Snapshots can be written as
// YAML, CUE or JSON; all three are checked against the same shape and
// unknown fields are rejected.
package feed

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rosterd/internal/address"
	"github.com/roach88/rosterd/internal/provider"
)

//go:embed schema.cue
var cueSchema string

//go:embed snapshot.schema.json
var jsonSchema []byte

const jsonSchemaURL = "https://rosterd.local/snapshot.schema.json"

// Format is a snapshot encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned for files whose extension names no format.
var ErrUnknownFormat = errors.New("unknown snapshot format")

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// Load reads and validates the snapshot at path.
func Load(path string) (provider.Snapshot, error) {
	format, err := FormatOf(path)
	if err != nil {
		return provider.Snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return provider.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := Parse(data, format, path)
	if err != nil {
		return provider.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// Parse decodes a snapshot in format. name is used in error positions.
func Parse(data []byte, format Format, name string) (provider.Snapshot, error) {
	var (
		snap provider.Snapshot
		err  error
	)
	switch format {
	case FormatYAML:
		snap, err = parseYAML(data)
	case FormatCUE:
		snap, err = parseCUE(data, name)
	case FormatJSON:
		snap, err = parseJSON(data)
	default:
		return snap, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
	if err != nil {
		return snap, err
	}
	return snap, Validate(snap)
}

func parseYAML(data []byte) (provider.Snapshot, error) {
	var snap provider.Snapshot
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&snap); err != nil {
		return snap, fmt.Errorf("parse yaml: %w", err)
	}
	return snap, nil
}

func parseCUE(data []byte, name string) (provider.Snapshot, error) {
	var snap provider.Snapshot
	ctx := cuecontext.New()

	schema := ctx.CompileString(cueSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return snap, fmt.Errorf("compile snapshot schema: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename(name))
	if err := value.Err(); err != nil {
		return snap, fmt.Errorf("parse cue: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Snapshot")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return snap, fmt.Errorf("validate cue: %w", err)
	}
	if err := unified.Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode cue: %w", err)
	}
	return snap, nil
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func snapshotSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonSchema))
		if err != nil {
			compileErr = fmt.Errorf("load snapshot schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(jsonSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add snapshot schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(jsonSchemaURL)
	})
	return compiled, compileErr
}

func parseJSON(data []byte) (provider.Snapshot, error) {
	var snap provider.Snapshot
	sch, err := snapshotSchema()
	if err != nil {
		return snap, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return snap, fmt.Errorf("parse json: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return snap, fmt.Errorf("validate json: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode json: %w", err)
	}
	return snap, nil
}

// Validate reports structural problems the schemas cannot express:
// duplicate account paths and contact ids, separators inside either, and
// contact ids reserved for the account's own identity.
func Validate(snap provider.Snapshot) error {
	var errs []error
	paths := map[string]bool{}
	for i, acct := range snap.Accounts {
		switch {
		case acct.Path == "":
			errs = append(errs, fmt.Errorf("accounts[%d]: path is required", i))
			continue
		case strings.Contains(acct.Path, "!"):
			errs = append(errs, fmt.Errorf("accounts[%d]: path %q contains '!'", i, acct.Path))
		case paths[acct.Path]:
			errs = append(errs, fmt.Errorf("accounts[%d]: duplicate path %q", i, acct.Path))
		}
		paths[acct.Path] = true

		ids := map[string]bool{}
		for j, c := range acct.Contacts {
			switch {
			case c.ID == "":
				errs = append(errs, fmt.Errorf("%s contacts[%d]: id is required", acct.Path, j))
			case strings.Contains(c.ID, "!"):
				errs = append(errs, fmt.Errorf("%s contacts[%d]: id %q contains '!'", acct.Path, j, c.ID))
			case address.Reserved(c.ID):
				errs = append(errs, fmt.Errorf("%s contacts[%d]: id %q is reserved", acct.Path, j, c.ID))
			case ids[c.ID]:
				errs = append(errs, fmt.Errorf("%s contacts[%d]: duplicate id %q", acct.Path, j, c.ID))
			}
			ids[c.ID] = true
		}
	}
	return errors.Join(errs...)
}
