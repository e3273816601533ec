// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package types

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateSchemas checks that the capability's input and output schemas,
// when present, compile as JSON Schema. Called at registration time so a
// malformed schema is rejected before it can break collaboration requests.
func (c Capability) ValidateSchemas() error {
	if len(c.InputSchema) > 0 {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(c.InputSchema)); err != nil {
			return fmt.Errorf("capability %q input schema: %w", c.Name, err)
		}
	}
	if len(c.OutputSchema) > 0 {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(c.OutputSchema)); err != nil {
			return fmt.Errorf("capability %q output schema: %w", c.Name, err)
		}
	}
	return nil
}

// ValidateInput validates a collaboration input document against the
// capability's input schema. No schema means no validation.
func (c Capability) ValidateInput(input map[string]interface{}) error {
	return validateAgainst(c.InputSchema, input, "input")
}

// ValidateOutput validates a collaboration result document against the
// capability's output schema. No schema means no validation.
func (c Capability) ValidateOutput(output map[string]interface{}) error {
	return validateAgainst(c.OutputSchema, output, "output")
}

func validateAgainst(schema, doc map[string]interface{}, what string) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%s schema validation failed: %w", what, err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			errs[i] = e.String()
		}
		return fmt.Errorf("invalid %s: %v", what, errs)
	}

	return nil
}
