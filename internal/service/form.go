package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx/types"
)

// FormField is one organizer-defined question on an event's participant form
type FormField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// FormSchema is the participant form attached to an event
type FormSchema struct {
	Fields []FormField `json:"fields"`
}

func parseFormSchema(raw types.JSONText) (*FormSchema, error) {
	var schema FormSchema
	if len(raw) == 0 {
		return &schema, nil
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("invalid form schema: %w", err)
	}
	return &schema, nil
}

func (s *FormSchema) requiredFields() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// validateParticipants checks one cart line. When the form has required
// questions every unit needs its own answers.
func (s *FormSchema) validateParticipants(quantity int, participants []map[string]interface{}) error {
	required := s.requiredFields()
	if len(required) == 0 {
		return nil
	}
	if len(participants) < quantity {
		return fmt.Errorf("%w: %d of %d participants provided", ErrMissingAnswers, len(participants), quantity)
	}

	for i, p := range participants {
		for _, name := range required {
			if isBlank(p[name]) {
				return fmt.Errorf("%w: participant %d field %q", ErrMissingAnswers, i+1, name)
			}
		}
	}
	return nil
}

func isBlank(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}
