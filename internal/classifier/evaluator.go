package classifier

import (
	"fmt"
	"strconv"
)

// ConditionSpec is one threshold: a comparison operator and its operand, or
// an inclusive range for "between".
type ConditionSpec struct {
	Op    string   `json:"op" yaml:"op"`
	Value any      `json:"value" yaml:"value"`
	Min   *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

func (c ConditionSpec) Validate() error {
	switch c.Op {
	case ">", ">=", "<", "<=", "==", "!=":
		if _, err := toFloat(c.Value); err != nil {
			return fmt.Errorf("condition %s: value %v is not numeric", c.Op, c.Value)
		}
	case "between":
		if c.Min == nil || c.Max == nil {
			return fmt.Errorf("condition between: min and max are required")
		}
		if *c.Min > *c.Max {
			return fmt.Errorf("condition between: min %v greater than max %v", *c.Min, *c.Max)
		}
	default:
		return fmt.Errorf("unknown operator %q", c.Op)
	}
	return nil
}

// EvaluateCondition reports whether value satisfies cond, along with the
// observed value and the limit expression for descriptions.
func EvaluateCondition(cond ConditionSpec, value any) (bool, string, string) {
	floatVal, err := toFloat(value)
	if err != nil {
		return false, fmt.Sprint(value), fmt.Sprintf("%s %v", cond.Op, cond.Value)
	}
	observed := strconv.FormatFloat(floatVal, 'f', -1, 64)
	if cond.Op == "between" {
		if cond.Min == nil || cond.Max == nil {
			return false, observed, "between"
		}
		return floatVal >= *cond.Min && floatVal <= *cond.Max, observed, fmt.Sprintf("between %v and %v", *cond.Min, *cond.Max)
	}
	target, err := toFloat(cond.Value)
	if err != nil {
		return false, observed, fmt.Sprintf("%s %v", cond.Op, cond.Value)
	}
	expr := fmt.Sprintf("%s %v", cond.Op, target)
	switch cond.Op {
	case ">":
		return floatVal > target, observed, expr
	case ">=":
		return floatVal >= target, observed, expr
	case "<":
		return floatVal < target, observed, expr
	case "<=":
		return floatVal <= target, observed, expr
	case "==":
		return floatVal == target, observed, expr
	case "!=":
		return floatVal != target, observed, expr
	default:
		return false, observed, cond.Op
	}
}

func toFloat(val any) (float64, error) {
	switch t := val.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", val)
	}
}
