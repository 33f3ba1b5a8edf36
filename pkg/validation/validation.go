// Package validation is munin's input-shape gate (C10, expansion): decision
// policy and scope documents are checked against JSON Schemas before any
// state mutation, so a malformed request fails closed as InputInvalid
// ahead of the decision engine rather than corrupting state partway
// through, in the same spirit as the teacher's fail-closed policy-decision
// contract.
package validation

import (
	"bytes"
	"sync"

	"github.com/jacobsprake/munin/pkg/apierr"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const policySchemaDoc = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["threshold", "required", "signers"],
	"properties": {
		"threshold": {"type": "integer", "minimum": 1},
		"required": {"type": "integer", "minimum": 1},
		"signers": {
			"type": "array",
			"items": {"type": "string", "minLength": 1},
			"minItems": 1,
			"uniqueItems": true
		}
	}
}`

const scopeSchemaDoc = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object"
}`

const packetBodySchemaDoc = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object"
}`

var (
	once         sync.Once
	policySchema *jsonschema.Schema
	scopeSchema  *jsonschema.Schema
	packetSchema *jsonschema.Schema
	compileErr   error
)

func compileAll() {
	compiler := jsonschema.NewCompiler()
	mustAdd := func(url, doc string) {
		if compileErr != nil {
			return
		}
		if err := compiler.AddResource(url, bytes.NewReader([]byte(doc))); err != nil {
			compileErr = err
		}
	}
	mustAdd("policy.json", policySchemaDoc)
	mustAdd("scope.json", scopeSchemaDoc)
	mustAdd("packet_body.json", packetBodySchemaDoc)
	if compileErr != nil {
		return
	}

	var err error
	if policySchema, err = compiler.Compile("policy.json"); err != nil {
		compileErr = err
		return
	}
	if scopeSchema, err = compiler.Compile("scope.json"); err != nil {
		compileErr = err
		return
	}
	if packetSchema, err = compiler.Compile("packet_body.json"); err != nil {
		compileErr = err
		return
	}
}

func schemas() error {
	once.Do(compileAll)
	return compileErr
}

// ValidatePolicy checks a decoded policy document ({threshold, required,
// signers}) against its schema. Arity/duplicate invariants beyond shape
// (1 <= threshold <= required == len(signers), no duplicate signers) are
// the decision engine's responsibility; this only rejects structurally
// malformed input before it reaches that logic.
func ValidatePolicy(v interface{}) error {
	if err := schemas(); err != nil {
		return apierr.Wrap(apierr.KindInternal, "policy schema unavailable", err)
	}
	if err := policySchema.Validate(v); err != nil {
		return apierr.Wrap(apierr.KindInputInvalid, "policy failed schema validation", err)
	}
	return nil
}

// ValidateScope checks that a scope document is at least a well-formed
// JSON object; its contents are otherwise arbitrary per spec.md §3.
func ValidateScope(v interface{}) error {
	if err := schemas(); err != nil {
		return apierr.Wrap(apierr.KindInternal, "scope schema unavailable", err)
	}
	if err := scopeSchema.Validate(v); err != nil {
		return apierr.Wrap(apierr.KindInputInvalid, "scope failed schema validation", err)
	}
	return nil
}

// ValidatePacketBody checks that a handshake packet body is a well-formed
// JSON object.
func ValidatePacketBody(v interface{}) error {
	if err := schemas(); err != nil {
		return apierr.Wrap(apierr.KindInternal, "packet body schema unavailable", err)
	}
	if err := packetSchema.Validate(v); err != nil {
		return apierr.Wrap(apierr.KindInputInvalid, "packet body failed schema validation", err)
	}
	return nil
}
