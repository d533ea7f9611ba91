// Package validator checks data crossing package boundaries against embedded
// CUE contracts: library snapshots, regression suites and run results.
//
// A failed validation is a bug in the producer. Fix the reader or the runner,
// not the schema, unless the contract itself changed.
package validator

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema/*.cue
var schemaFS embed.FS

// Definition names exported by the schemas.
const (
	DefLibrary   = "#Library"
	DefSuite     = "#Suite"
	DefRunResult = "#RunResult"
)

// Validator holds the compiled schemas.
type Validator struct {
	ctx     *cue.Context
	schemas []cue.Value
}

// New compiles every embedded schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()

	names, err := fs.Glob(schemaFS, "schema/*.cue")
	if err != nil {
		return nil, fmt.Errorf("listing embedded schemas: %w", err)
	}
	sort.Strings(names)

	v := &Validator{ctx: ctx}
	for _, name := range names {
		src, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("loading embedded schema %s: %w", name, err)
		}
		schema := ctx.CompileBytes(src, cue.Filename(name))
		if schema.Err() != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", name, schema.Err())
		}
		v.schemas = append(v.schemas, schema)
	}
	return v, nil
}

func (v *Validator) lookup(def string) (cue.Value, error) {
	path := cue.ParsePath(def)
	for _, schema := range v.schemas {
		if d := schema.LookupPath(path); d.Exists() {
			return d, nil
		}
	}
	return cue.Value{}, fmt.Errorf("looking up %s definition: not found", def)
}

func (v *Validator) unify(def string, data interface{}) (cue.Value, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return cue.Value{}, fmt.Errorf("marshaling data to JSON: %w", err)
	}
	return v.unifyJSON(def, jsonBytes)
}

func (v *Validator) unifyJSON(def string, jsonBytes []byte) (cue.Value, error) {
	dataValue := v.ctx.CompileBytes(jsonBytes)
	if dataValue.Err() != nil {
		return cue.Value{}, fmt.Errorf("compiling data as CUE: %w", dataValue.Err())
	}
	d, err := v.lookup(def)
	if err != nil {
		return cue.Value{}, err
	}
	return d.Unify(dataValue), nil
}

// Validate checks data against the named definition.
func (v *Validator) Validate(def string, data interface{}) error {
	unified, err := v.unify(def, data)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s validation failed: %w", def, err)
	}
	return nil
}

// ValidateJSON validates raw JSON against the named definition.
func (v *Validator) ValidateJSON(def string, jsonBytes []byte) error {
	unified, err := v.unifyJSON(def, jsonBytes)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s validation failed: %w", def, err)
	}
	return nil
}

// ValidateLibrary checks a library snapshot ({cells: [...]}).
func (v *Validator) ValidateLibrary(data interface{}) error {
	return v.Validate(DefLibrary, data)
}

// ValidateSuite checks a decoded regression suite.
func (v *Validator) ValidateSuite(data interface{}) error {
	return v.Validate(DefSuite, data)
}

// ValidateResult checks a regression run result.
func (v *Validator) ValidateResult(data interface{}) error {
	return v.Validate(DefRunResult, data)
}

// Errors lists every validation error instead of the first one.
func (v *Validator) Errors(def string, data interface{}) []string {
	unified, err := v.unify(def, data)
	if err != nil {
		return []string{err.Error()}
	}
	err = unified.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}
	var errs []string
	for _, e := range errors.Errors(err) {
		errs = append(errs, errors.String(e))
	}
	return errs
}
