package sanity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/asifgondal786/tajir/pkg/contracts"
)

// ErrMalformedProposal wraps every DecodeProposal failure.
var ErrMalformedProposal = errors.New("malformed trade proposal")

const proposalSchemaURL = "tajir://schemas/trade_proposal.json"

const proposalSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["pair", "action", "entry_price", "stop_loss", "take_profit", "position_size"],
  "additionalProperties": false,
  "properties": {
    "pair":                       {"type": "string", "maxLength": 16},
    "action":                     {"type": "string", "maxLength": 8},
    "entry_price":                {"type": "number"},
    "stop_loss":                  {"type": "number"},
    "take_profit":                {"type": "number"},
    "position_size":              {"type": "number"},
    "risk_percent":               {"type": "number", "exclusiveMinimum": 0},
    "is_paper_trade":             {"type": "boolean"},
    "broker_account_id":          {"type": "string"},
    "server_side_stop_loss":      {"type": "boolean"},
    "server_side_take_profit":    {"type": "boolean"},
    "broker_fail_safe_confirmed": {"type": "boolean"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func proposalSchemaCompiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(proposalSchemaURL, strings.NewReader(proposalSchema)); err != nil {
			schemaErr = fmt.Errorf("add proposal schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(proposalSchemaURL)
	})
	return compiledSchema, schemaErr
}

// DecodeProposal validates raw JSON against the proposal schema and decodes it.
// Semantic checks are left to Validate.
func DecodeProposal(raw []byte) (contracts.TradeProposal, error) {
	var p contracts.TradeProposal

	schema, err := proposalSchemaCompiled()
	if err != nil {
		return p, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedProposal, err)
	}
	if err := schema.Validate(doc); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedProposal, err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedProposal, err)
	}
	return p, nil
}
