// Package bot runs scripted automations against conversations: session
// lifecycle, flow graph execution, trigger commands and expiry sweeps.
package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"waconnect/internal/models"
)

// scriptEnv is the sandbox visible to condition, action, validation and
// command scripts. Only session variables and a few helpers are exposed;
// scripts cannot reach the database or the network.
func scriptEnv(session *models.BotSession, contact *models.Contact, message string, args []string) map[string]interface{} {
	vars := map[string]interface{}{}
	for k, v := range session.Variables {
		vars[k] = v
	}
	env := map[string]interface{}{
		"vars":         vars,
		"message":      message,
		"args":         args,
		"phone":        contact.Mobile,
		"contact_name": contact.Name,
		"get": func(name string) interface{} {
			return session.GetVariable(name, nil)
		},
		"set": func(name string, value interface{}) bool {
			session.SetVariable(name, value)
			return true
		},
		"number": func(v interface{}) float64 {
			f, _ := toNumber(v)
			return f
		},
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"trim":  strings.TrimSpace,
	}
	return env
}

func evalScript(code string, env map[string]interface{}) (interface{}, error) {
	program, err := expr.Compile(code, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("script compile: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("script run: %w", err)
	}
	return out, nil
}

// evalCondition evaluates a script and coerces the result to a boolean.
func evalCondition(code string, env map[string]interface{}) (bool, error) {
	out, err := evalScript(code, env)
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// compareValues applies a condition operator to a stored variable and the
// configured literal. Both sides are coerced to numbers or booleans when
// possible so "18" > 17 behaves as expected.
func compareValues(variable interface{}, operator, literal string) (bool, error) {
	if operator == "contains" || operator == "not_contains" {
		hay := strings.ToLower(stringify(variable))
		needle := strings.ToLower(literal)
		found := strings.Contains(hay, needle)
		if operator == "contains" {
			return found, nil
		}
		return !found, nil
	}

	if ln, lok := toNumber(variable); lok {
		if rn, rok := toNumber(literal); rok {
			switch operator {
			case "==":
				return ln == rn, nil
			case "!=":
				return ln != rn, nil
			case ">":
				return ln > rn, nil
			case ">=":
				return ln >= rn, nil
			case "<":
				return ln < rn, nil
			case "<=":
				return ln <= rn, nil
			}
		}
	}

	if lb, lok := toBool(variable); lok {
		if rb, rok := toBool(literal); rok {
			switch operator {
			case "==":
				return lb == rb, nil
			case "!=":
				return lb != rb, nil
			}
		}
	}

	ls, rs := stringify(variable), literal
	switch operator {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	}
	return false, fmt.Errorf("unknown condition operator %q", operator)
}

func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
