// Package resolver turns a food description into a nutrient estimate by
// asking an OpenAI-compatible chat model, and strictly decodes its reply.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"nutribot/internal/models"
)

// Outcome of a successful resolver call. Failures are errors wrapping
// models.ErrTransport and have no Outcome.
type Outcome int

const (
	Recognized Outcome = iota + 1
	Unrecognized
)

func (o Outcome) String() string {
	switch o {
	case Recognized:
		return "recognized"
	case Unrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// Result is Recognized with an estimate, or Unrecognized.
type Result struct {
	Outcome  Outcome
	Estimate models.NutrientEstimate
}

// Resolver is the narrow contract the conversation layer depends on.
type Resolver interface {
	Resolve(ctx context.Context, description string) (Result, error)
}

// UnrecognizedToken is what the model answers in plain-text mode when it
// cannot identify the food.
const UnrecognizedToken = "NAO_RECONHECIDO"

// DecodeOptions controls which reply shapes are accepted.
type DecodeOptions struct {
	// AllowLegacyArity accepts [protein, carbs, fat] and derives calories
	// with Atwater factors. Four values are authoritative.
	AllowLegacyArity bool
}

type jsonReply struct {
	Recognized *bool             `json:"recognized"`
	Values     []json.RawMessage `json:"values"`
}

// DecodeReply parses the model's reply. Accepted shapes:
//
//	{"recognized": true, "values": [protein, carbs, fat, calories]}
//	{"recognized": false}
//	protein carbs fat calories
//	NAO_RECONHECIDO
//
// JSON may be wrapped in prose or code fences. Anything else, a wrong
// arity, or a value that is not a finite non-negative number is a
// transport error, never a zero.
func DecodeReply(raw string, opts DecodeOptions) (Result, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return Result{}, malformed("empty reply")
	}

	if start := strings.Index(content, "{"); start != -1 {
		end := strings.LastIndex(content, "}")
		if end <= start {
			return Result{}, malformed("unterminated JSON object")
		}
		return decodeJSON(content[start:end+1], opts)
	}

	if strings.EqualFold(content, UnrecognizedToken) {
		return Result{Outcome: Unrecognized}, nil
	}

	fields := strings.Fields(strings.ReplaceAll(content, ",", " "))
	values := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Result{}, malformed("non-numeric value %q", f)
		}
		values = append(values, v)
	}
	return fromValues(values, opts)
}

func decodeJSON(payload string, opts DecodeOptions) (Result, error) {
	var reply jsonReply
	if err := json.Unmarshal([]byte(payload), &reply); err != nil {
		return Result{}, malformed("invalid JSON: %v", err)
	}
	if reply.Recognized == nil {
		return Result{}, malformed("missing \"recognized\" field")
	}
	if !*reply.Recognized {
		return Result{Outcome: Unrecognized}, nil
	}

	values := make([]float64, 0, len(reply.Values))
	for i, rawValue := range reply.Values {
		var v *float64
		if err := json.Unmarshal(rawValue, &v); err != nil {
			return Result{}, malformed("value %d is not a number: %s", i, string(rawValue))
		}
		if v == nil {
			return Result{}, malformed("value %d is null", i)
		}
		values = append(values, *v)
	}
	return fromValues(values, opts)
}

func fromValues(values []float64, opts DecodeOptions) (Result, error) {
	switch len(values) {
	case 4:
	case 3:
		if !opts.AllowLegacyArity {
			return Result{}, malformed("got 3 values, calories required")
		}
	default:
		return Result{}, malformed("expected 4 values, got %d", len(values))
	}

	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Result{}, malformed("value %d out of range: %v", i, v)
		}
	}

	est := models.NutrientEstimate{
		ProteinG: values[0],
		CarbsG:   values[1],
		FatG:     values[2],
	}
	if len(values) == 4 {
		est.CaloriesKcal = values[3]
	} else {
		est.CaloriesKcal = AtwaterCalories(est.ProteinG, est.CarbsG, est.FatG)
	}

	return Result{Outcome: Recognized, Estimate: est}, nil
}

// AtwaterCalories estimates energy from macronutrients (4/4/9 kcal per gram).
func AtwaterCalories(proteinG, carbsG, fatG float64) float64 {
	return 4*proteinG + 4*carbsG + 9*fatG
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("resolver: malformed reply: %s: %w", fmt.Sprintf(format, args...), models.ErrTransport)
}
