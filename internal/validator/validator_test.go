package validator

import (
	"strings"
	"testing"
)

func shape(layer string) map[string]interface{} {
	return map[string]interface{}{
		"layer": layer,
		"box": map[string]interface{}{
			"Min": map[string]interface{}{"X": 0, "Y": 0},
			"Max": map[string]interface{}{"X": 1, "Y": 1},
		},
	}
}

func cell(name string, width float64, pins map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"name": name, "class": "CORE", "width": width, "height": 6.0, "pins": pins}
}

// TestLibraryContract checks the snapshot contract the policy engine relies on.
func TestLibraryContract(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	okPins := map[string]interface{}{
		"A":   map[string]interface{}{"name": "A", "direction": "INPUT", "shapes": []interface{}{shape("metal1")}},
		"vdd": map[string]interface{}{"name": "vdd", "use": "POWER", "shapes": nil},
	}

	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
	}{
		{
			name:    "valid_library",
			data:    map[string]interface{}{"cells": []interface{}{cell("pinv", 2.4, okPins)}},
			wantErr: false,
		},
		{
			name:    "empty_library",
			data:    map[string]interface{}{"cells": []interface{}{}},
			wantErr: false,
		},
		{
			name:    "zero_width",
			data:    map[string]interface{}{"cells": []interface{}{cell("pinv", 0, okPins)}},
			wantErr: true,
		},
		{
			name:    "no_pins",
			data:    map[string]interface{}{"cells": []interface{}{cell("pinv", 2.4, map[string]interface{}{})}},
			wantErr: true,
		},
		{
			name: "bad_direction",
			data: map[string]interface{}{"cells": []interface{}{cell("pinv", 2.4, map[string]interface{}{
				"A": map[string]interface{}{"name": "A", "direction": "sideways", "shapes": nil},
			})}},
			wantErr: true,
		},
		{
			name: "unknown_field",
			data: map[string]interface{}{"cells": []interface{}{
				map[string]interface{}{"name": "x", "width": 1, "height": 1, "pins": okPins, "gds": "x.gds"},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateLibrary(tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateLibrary() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSuiteContract(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	valid := map[string]interface{}{
		"version": 1,
		"tech":    "scn3me_subm",
		"cases": []interface{}{
			map[string]interface{}{"id": "pinv", "generator": "inv"},
			map[string]interface{}{
				"id": "wd_4", "generator": "write_driver_array",
				"params": map[string]interface{}{"size": 4},
				"checks": []interface{}{"netlist", "abstract"},
			},
		},
	}
	if err := v.ValidateSuite(valid); err != nil {
		t.Fatalf("expected valid suite, got %v", err)
	}

	if err := v.ValidateSuite(map[string]interface{}{"version": 1, "cases": []interface{}{}}); err == nil {
		t.Fatalf("expected error for suite without cases")
	}
	if err := v.ValidateSuite(map[string]interface{}{
		"version": 2,
		"cases":   []interface{}{map[string]interface{}{"id": "a", "generator": "inv"}},
	}); err == nil {
		t.Fatalf("expected error for version 2")
	}
	if err := v.ValidateSuite(map[string]interface{}{
		"version": 1,
		"cases": []interface{}{map[string]interface{}{
			"id": "a", "generator": "inv", "checks": []interface{}{"drc"},
		}},
	}); err == nil {
		t.Fatalf("expected error for unknown check")
	}
	if err := v.ValidateSuite(map[string]interface{}{
		"version": 1,
		"cases":   []interface{}{map[string]interface{}{"id": "has space", "generator": "inv"}},
	}); err == nil {
		t.Fatalf("expected error for case id with a space")
	}
}

func TestRunResultContract(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}

	result := map[string]interface{}{
		"runId":       "0b7f4a52-6d0e-4c9e-9a57-2b1e3c4d5f60",
		"tech":        "scn3me_subm",
		"started":     "2026-01-01T00:00:00Z",
		"durationMs":  12,
		"libraryHash": "abc",
		"cases": []interface{}{
			map[string]interface{}{"id": "pinv", "generator": "inv", "status": "pass", "durationMs": 3},
		},
		"summary": map[string]interface{}{"total": 1, "pass": 1, "fail": 0, "error": 0, "updated": 0, "cached": 0, "skipped": 0},
	}
	if err := v.ValidateResult(result); err != nil {
		t.Fatalf("expected valid result, got %v", err)
	}

	result["cases"] = []interface{}{
		map[string]interface{}{"id": "pinv", "generator": "inv", "status": "flaky", "durationMs": 3},
	}
	errs := v.Errors(DefRunResult, result)
	if len(errs) == 0 {
		t.Fatalf("expected errors for unknown status")
	}
	if !strings.Contains(strings.Join(errs, "\n"), "status") {
		t.Errorf("expected an error naming status, got %v", errs)
	}
}

func TestUnknownDefinition(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	if err := v.Validate("#Nope", map[string]interface{}{}); err == nil {
		t.Fatalf("expected error for unknown definition")
	}
}
