// Package series holds the time series work functions run by the execution
// backend: validation of uploaded data, descriptive analysis and simple
// baseline forecasts.
package series
