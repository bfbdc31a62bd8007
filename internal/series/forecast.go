package series

import (
	"errors"
	"fmt"
	"slices"
)

// Forecast model names.
const (
	ModelHistoricAverage = "historic_average"
	ModelNaive           = "naive"
	ModelLinearTrend     = "linear_trend"
)

// MaxHorizon is the furthest a forecast may reach.
const MaxHorizon = 365

// Models lists the supported forecast models.
var Models = []string{ModelHistoricAverage, ModelLinearTrend, ModelNaive}

// ErrUnknownModel is returned for a forecast model that is not supported.
var ErrUnknownModel = errors.New("unknown forecast model")

// ValidateForecast checks a model name and horizon.
func ValidateForecast(model string, horizon int) error {
	if !slices.Contains(Models, model) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	if horizon < 1 || horizon > MaxHorizon {
		return fmt.Errorf("horizon must be between 1 and %d, got %d", MaxHorizon, horizon)
	}
	return nil
}

// Forecast predicts the next horizon values of data with the named model.
func Forecast(data []float64, model string, horizon int) ([]float64, error) {
	if err := ValidateForecast(model, horizon); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty series")
	}

	out := make([]float64, horizon)
	switch model {
	case ModelHistoricAverage:
		m := mean(data)
		for i := range out {
			out[i] = m
		}
	case ModelNaive:
		last := data[len(data)-1]
		for i := range out {
			out[i] = last
		}
	case ModelLinearTrend:
		slope, intercept := linearFit(data)
		n := len(data)
		for i := range out {
			out[i] = slope*float64(n+i) + intercept
		}
	}
	return out, nil
}
