package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/amc/internal/config"
	"github.com/robert-at-pretension-io/amc/internal/design"
	"github.com/robert-at-pretension-io/amc/internal/tech"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"size=8", "name=wd", "empty="})
	require.NoError(t, err)
	assert.Equal(t, design.Params{"size": 8, "name": "wd", "empty": ""}, params)

	for _, bad := range []string{"size", "=3"} {
		_, err := parseParams([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestSimilarNames(t *testing.T) {
	names := []string{"pinv", "pnand2", "pnand3", "write_driver"}
	assert.Equal(t, []string{"pinv"}, similarNames(names, "INV"))
	assert.Equal(t, []string{"pnand2", "pnand3"}, similarNames(names, "nand"))
	assert.Equal(t, []string{"pnand2"}, similarNames(names, "pnand2_x1"))
	assert.Empty(t, similarNames(names, "sense_amp"))
}

func TestLoadLibraryRequiresHome(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ApplyEnv(func(string) string { return "" })

	_, err := loadLibrary(context.Background(), cfg)
	require.ErrorIs(t, err, tech.ErrMissingEnv)
	assert.Contains(t, err.Error(), tech.EnvHome)
}
