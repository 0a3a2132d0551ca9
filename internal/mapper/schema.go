package mapper

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaCUE string

// Column schema definitions in schema.cue.
const (
	SchemaLogins     = "#Logins"
	SchemaLabels     = "#Labels"
	SchemaIssueRefs  = "#IssueRefs"
	SchemaBranchRefs = "#BranchRefs"
	SchemaCheckRuns  = "#CheckRuns"
)

// ColumnVersion is the envelope version written by this package.
const ColumnVersion = 1

// validator checks decoded column payloads against schema.cue.
// CUE values are not safe for concurrent use, so access is serialised.
type validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

func newValidator() (*validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile column schema: %w", err)
	}
	return &validator{ctx: ctx, schema: schema}, nil
}

// validate unifies the JSON document data with the named definition and
// requires the result to be concrete.
func (v *validator) validate(def string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	expr, err := cuejson.Extract(def, data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", def, err)
	}
	doc := v.ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("build %s: %w", def, err)
	}

	schema := v.schema.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("unknown column schema %s", def)
	}
	if err := schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate %s: %w", def, err)
	}
	return nil
}
