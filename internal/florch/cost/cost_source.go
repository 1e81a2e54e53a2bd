package cost

import (
	"encoding/json"
	"fmt"
	"strings"
)

type CostSource int

const (
	COMMUNICATION CostSource = iota
	COMPUTE
)

func (c CostSource) String() string {
	switch c {
	case COMMUNICATION:
		return "COMMUNICATION"
	case COMPUTE:
		return "COMPUTE"
	default:
		return "UNKNOWN"
	}
}

func ParseCostSource(s string) (CostSource, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "COMMUNICATION":
		return COMMUNICATION, nil
	case "COMPUTE":
		return COMPUTE, nil
	default:
		return COMMUNICATION, fmt.Errorf("invalid CostSource: %q", s)
	}
}

// Marshal as a JSON string: "COMMUNICATION"/"COMPUTE"
func (c CostSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// Accept either JSON strings ("COMPUTE") or numbers (0/1)
func (c *CostSource) UnmarshalJSON(b []byte) error {
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		v, err := ParseCostSource(strings.Trim(string(b), `"`))
		if err != nil {
			return err
		}
		*c = v
		return nil
	}
	var i int
	if err := json.Unmarshal(b, &i); err != nil {
		return err
	}
	switch v := CostSource(i); v {
	case COMMUNICATION, COMPUTE:
		*c = v
		return nil
	default:
		return fmt.Errorf("invalid CostSource numeric value: %d", i)
	}
}

func (c CostSource) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

func (c *CostSource) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseCostSource(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
