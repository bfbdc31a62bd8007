package series

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seantiz/augur/internal/backend"
	"github.com/seantiz/augur/internal/model"
)

// Work function names registered with the execution backend.
const (
	FuncAnalyze  = "series.analyze"
	FuncForecast = "series.forecast"
)

// Input is the payload handed to a work function.
type Input struct {
	Series []float64       `json:"series"`
	Params json.RawMessage `json:"params,omitempty"`
}

// FuncName returns the work function that runs a kind of work item.
func FuncName(kind string) (string, error) {
	switch kind {
	case model.KindAnalyze:
		return FuncAnalyze, nil
	case model.KindForecast:
		return FuncForecast, nil
	}
	return "", fmt.Errorf("unknown kind %q", kind)
}

// ValidateParams checks the parameters of a kind of work item.
func ValidateParams(kind string, params json.RawMessage) error {
	switch kind {
	case model.KindAnalyze:
		return nil
	case model.KindForecast:
		p, err := decodeForecastParams(params)
		if err != nil {
			return err
		}
		return ValidateForecast(p.Model, p.Horizon)
	}
	return fmt.Errorf("unknown kind %q", kind)
}

// Register binds the series work functions to their names.
func Register(reg *backend.Registry) {
	reg.Register(FuncAnalyze, AnalyzeFunc)
	reg.Register(FuncForecast, ForecastFunc)
}

// AnalyzeFunc is the backend work function for analyze work items. Analysis
// errors are reported as an unsuccessful outcome; only an unreadable payload
// fails the job itself.
func AnalyzeFunc(_ context.Context, payload []byte, taskID string) ([]byte, error) {
	in, err := decodeInput(payload)
	if err != nil {
		return nil, err
	}
	a, err := Analyze(in.Series)
	if err != nil {
		return encodeOutcome(taskID, nil, err)
	}
	return encodeOutcome(taskID, a, nil)
}

// ForecastFunc is the backend work function for forecast work items.
func ForecastFunc(_ context.Context, payload []byte, taskID string) ([]byte, error) {
	in, err := decodeInput(payload)
	if err != nil {
		return nil, err
	}
	p, err := decodeForecastParams(in.Params)
	if err != nil {
		return encodeOutcome(taskID, nil, err)
	}
	values, err := Forecast(in.Series, p.Model, p.Horizon)
	if err != nil {
		return encodeOutcome(taskID, nil, err)
	}
	return encodeOutcome(taskID, values, nil)
}

func decodeInput(payload []byte) (Input, error) {
	var in Input
	if err := json.Unmarshal(payload, &in); err != nil {
		return Input{}, fmt.Errorf("decode input: %w", err)
	}
	return in, nil
}

func decodeForecastParams(raw json.RawMessage) (model.ForecastParams, error) {
	var p model.ForecastParams
	if len(raw) == 0 {
		return p, fmt.Errorf("forecast params are required")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode forecast params: %w", err)
	}
	return p, nil
}

func encodeOutcome(taskID string, results any, failure error) ([]byte, error) {
	out := model.Outcome{TaskID: taskID}
	if failure != nil {
		out.Error = failure.Error()
	} else {
		raw, err := json.Marshal(results)
		if err != nil {
			return nil, fmt.Errorf("encode results: %w", err)
		}
		out.Success = true
		out.Results = raw
	}
	return json.Marshal(out)
}
