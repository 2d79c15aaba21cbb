package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const GenerationStatusCompleted = "completed"

// Generation records one successful logo-to-scene transformation.
type Generation struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	LogoURL           string    `json:"logo_url"`
	LogoDescription   string    `json:"logo_description"`
	DestinationPrompt string    `json:"destination_prompt"`
	ResultURL         string    `json:"result_url"`
	ResultFileName    string    `json:"result_file_name"`
	Status            string    `json:"status"`
	CreditCost        int       `json:"credit_cost"`
	IPAddress         string    `json:"ip_address,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	Metadata          JSONB     `json:"metadata"`
	CreatedAt         time.Time `json:"created_at"`
}

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = JSONB{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}
