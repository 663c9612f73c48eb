package cloud

import (
	"strings"
	"time"
)

// RecurrenceFrequency is the unit of a job recurrence.
type RecurrenceFrequency string

const (
	FrequencyMinute RecurrenceFrequency = "Minute"
	FrequencyHour   RecurrenceFrequency = "Hour"
	FrequencyDay    RecurrenceFrequency = "Day"
	FrequencyWeek   RecurrenceFrequency = "Week"
	FrequencyMonth  RecurrenceFrequency = "Month"
)

var frequencies = []RecurrenceFrequency{FrequencyMinute, FrequencyHour, FrequencyDay, FrequencyWeek, FrequencyMonth}

// CollectionSKU is the pricing tier of a job collection.
type CollectionSKU string

const (
	SKUFree       CollectionSKU = "Free"
	SKUStandard   CollectionSKU = "Standard"
	SKUP10Premium CollectionSKU = "P10Premium"
	SKUP20Premium CollectionSKU = "P20Premium"
)

var collectionSKUs = []CollectionSKU{SKUFree, SKUStandard, SKUP10Premium, SKUP20Premium}

// ParseFrequency matches s case-insensitively against the known
// frequencies. It returns "" when nothing matches.
func ParseFrequency(s string) RecurrenceFrequency {
	for _, f := range frequencies {
		if matchEnum(s, string(f)) {
			return f
		}
	}
	return ""
}

// ParseCollectionSKU matches s case-insensitively against the known SKUs. It
// returns "" when nothing matches.
func ParseCollectionSKU(s string) CollectionSKU {
	for _, sku := range collectionSKUs {
		if matchEnum(s, string(sku)) {
			return sku
		}
	}
	return ""
}

// matchEnum accepts a non-empty input contained in the enum value, so "p10"
// selects P10Premium.
func matchEnum(input, value string) bool {
	input = strings.ToUpper(strings.TrimSpace(input))
	return input != "" && strings.Contains(strings.ToUpper(value), input)
}

// JobCollection is the body of a job collection PUT.
type JobCollection struct {
	Location   string                  `json:"location"`
	Properties JobCollectionProperties `json:"properties"`
}

type JobCollectionProperties struct {
	SKU   JobCollectionSKU `json:"sku"`
	State string           `json:"state"`
}

type JobCollectionSKU struct {
	Name CollectionSKU `json:"name"`
}

// Job is the body of a job PUT.
type Job struct {
	Properties JobProperties `json:"properties"`
}

type JobProperties struct {
	StartTime  time.Time      `json:"startTime"`
	Action     JobAction      `json:"action"`
	Recurrence *JobRecurrence `json:"recurrence,omitempty"`
	State      string         `json:"state,omitempty"`
}

type JobAction struct {
	Type    string     `json:"type"`
	Request JobRequest `json:"request"`
}

// JobRequest is the outbound HTTPS call a job performs.
type JobRequest struct {
	Method  string            `json:"method"`
	URI     string            `json:"uri"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type JobRecurrence struct {
	Frequency RecurrenceFrequency `json:"frequency"`
	Interval  int                 `json:"interval"`
}
