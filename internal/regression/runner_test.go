package regression

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/robert-at-pretension-io/amc/internal/config"
	"github.com/robert-at-pretension-io/amc/internal/design"
	"github.com/robert-at-pretension-io/amc/internal/library"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testTech = "scn3me_subm"

func fixtureCell(name string, width, height float64, pins []string) library.Cell {
	c := library.Cell{Name: name, Class: "CORE", Width: width, Height: height, Pins: map[string]library.Pin{}}
	for i, p := range pins {
		y := 0.1 * float64(i)
		c.Pins[p] = library.Pin{
			Name:   p,
			Shapes: []library.Shape{{Layer: "metal1", Box: library.NewBox(0, y, 0.1, y+0.1)}},
		}
	}
	return c
}

// fixtureLibrary builds the leaf cells the tests use; invWidth lets a test
// change pinv between runs.
func fixtureLibrary(t *testing.T, invWidth float64) *library.Library {
	t.Helper()
	lib := library.New()
	cells := []library.Cell{
		fixtureCell("pinv", invWidth, 3, design.Leaves["inv"].Pins),
		fixtureCell("pnand2", 2.4, 3, design.Leaves["nand2"].Pins),
		fixtureCell("write_driver", 2, 8, design.Leaves["write_driver"].Pins),
	}
	for _, c := range cells {
		require.NoError(t, lib.Add(c))
	}
	return lib
}

func fixtureSuite() *Suite {
	return &Suite{
		Version: 1,
		Tech:    testTech,
		Cases: []Case{
			{ID: "inv_leaf", Generator: "inv"},
			{ID: "nand2_leaf", Generator: "nand2", Checks: []string{CheckNetlist}},
			{ID: "wd_2", Generator: "write_driver_array", Params: design.Params{"size": 2}},
			{ID: "pre2", Generator: "predecoder", Params: design.Params{"bits": 2}},
		},
	}
}

func newTestRunner(t *testing.T, root string, lib *library.Library) *Runner {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Regression.MaxParallel = 2
	return &Runner{
		Config:  cfg,
		Library: lib,
		Root:    root,
		Getenv:  func(string) string { return "" },
	}
}

func statuses(r *RunResult) map[string]Status {
	out := make(map[string]Status, len(r.Cases))
	for _, c := range r.Cases {
		out[c.ID] = c.Status
	}
	return out
}

func allStatus(s *Suite, st Status) map[string]Status {
	out := make(map[string]Status, len(s.Cases))
	for _, c := range s.Cases {
		out[c.ID] = st
	}
	return out
}

func TestRunUpdateThenCompare(t *testing.T) {
	root := t.TempDir()
	suite := fixtureSuite()
	ctx := context.Background()

	r := newTestRunner(t, root, fixtureLibrary(t, 1.2))
	r.Update = true
	res, err := r.Run(ctx, suite)
	require.NoError(t, err)
	if diff := cmp.Diff(allStatus(suite, StatusUpdated), statuses(res)); diff != "" {
		t.Fatalf("update statuses (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, res.Summary.Updated)
	assert.Nil(t, res.Impact)

	golden := filepath.Join(root, "golden", testTech)
	assert.FileExists(t, filepath.Join(golden, "inv_leaf.sp"))
	assert.FileExists(t, filepath.Join(golden, "inv_leaf.json"))
	assert.FileExists(t, filepath.Join(golden, "nand2_leaf.sp"))
	assert.NoFileExists(t, filepath.Join(golden, "nand2_leaf.json"))
	assert.FileExists(t, filepath.Join(root, "amc_out", testTech, "wd_2.sp"))

	// Update primes the cache.
	r.Update = false
	res, err = r.Run(ctx, suite)
	require.NoError(t, err)
	assert.Equal(t, allStatus(suite, StatusCached), statuses(res))
	assert.True(t, res.OK())
	for _, c := range res.Cases {
		assert.NotEmpty(t, c.Cells, c.ID)
	}

	r.NoCache = true
	res, err = r.Run(ctx, suite)
	require.NoError(t, err)
	assert.Equal(t, allStatus(suite, StatusPass), statuses(res))
	assert.Equal(t, 4, res.Summary.Pass)
	assert.Empty(t, res.Failed())
}

func TestRunDetectsGoldenDrift(t *testing.T) {
	root := t.TempDir()
	suite := fixtureSuite()
	ctx := context.Background()

	r := newTestRunner(t, root, fixtureLibrary(t, 1.2))
	r.Update = true
	_, err := r.Run(ctx, suite)
	require.NoError(t, err)
	r.Update = false

	golden := filepath.Join(root, "golden", testTech)

	// Comments, case and spacing do not matter.
	path := filepath.Join(golden, "nand2_leaf.sp")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cosmetic := "* reviewed\n" + strings.ToUpper(strings.ReplaceAll(string(data), " ", "   ")) + "\n\n"
	require.NoError(t, os.WriteFile(path, []byte(cosmetic), 0o644))

	// A renamed net does.
	path = filepath.Join(golden, "wd_2.sp")
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.ReplaceAll(data, []byte("din[1]"), []byte("data[1]")), 0o644))

	require.NoError(t, os.Remove(filepath.Join(golden, "pre2.json")))

	res, err := r.Run(ctx, suite)
	require.NoError(t, err)
	assert.Equal(t, map[string]Status{
		"inv_leaf":   StatusCached,
		"nand2_leaf": StatusPass,
		"wd_2":       StatusFail,
		"pre2":       StatusFail,
	}, statuses(res))
	assert.Equal(t, []string{"pre2", "wd_2"}, res.Failed())
	assert.False(t, res.OK())

	byID := make(map[string]CaseResult)
	for _, c := range res.Cases {
		byID[c.ID] = c
	}
	assert.Contains(t, byID["wd_2"].Message, "netlist")
	assert.Contains(t, byID["wd_2"].Diff, "--- golden")
	assert.Contains(t, byID["wd_2"].Diff, "data[1]")
	assert.Contains(t, byID["pre2"].Message, ErrGoldenMissing.Error())
	assert.Empty(t, byID["pre2"].Diff)
}

func TestRunGeneratorError(t *testing.T) {
	root := t.TempDir()
	suite := &Suite{Version: 1, Cases: []Case{
		{ID: "bogus", Generator: "flux_capacitor"},
		{ID: "wd_0", Generator: "write_driver_array", Params: design.Params{"size": 0}},
	}}

	r := newTestRunner(t, root, fixtureLibrary(t, 1.2))
	res, err := r.Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, testTech, res.Tech)
	assert.Equal(t, allStatus(suite, StatusError), statuses(res))
	assert.Contains(t, res.Cases[0].Message, design.ErrUnknownGenerator.Error())
	assert.Equal(t, 2, res.Summary.Error)
}

func TestRunFailFast(t *testing.T) {
	root := t.TempDir()
	suite := fixtureSuite()
	suite.Cases = append([]Case{{ID: "bogus", Generator: "flux_capacitor"}}, suite.Cases...)

	r := newTestRunner(t, root, fixtureLibrary(t, 1.2))
	r.Config.Regression.MaxParallel = 1
	r.FailFast = true
	r.Update = true
	res, err := r.Run(context.Background(), suite)
	require.NoError(t, err)

	assert.Equal(t, StatusError, res.Cases[0].Status)
	for _, c := range res.Cases[1:] {
		assert.Equal(t, StatusSkipped, c.Status, c.ID)
		assert.Equal(t, "not run: fail-fast", c.Message)
	}
	assert.Equal(t, 4, res.Summary.Skipped)
}

func TestRunTechMismatch(t *testing.T) {
	r := newTestRunner(t, t.TempDir(), fixtureLibrary(t, 1.2))
	r.Tech = "freepdk45"
	_, err := r.Run(context.Background(), fixtureSuite())
	require.ErrorIs(t, err, ErrTechMismatch)
}

func TestRunTechMismatchFromConfig(t *testing.T) {
	root := t.TempDir()
	r := newTestRunner(t, root, fixtureLibrary(t, 1.2))
	r.Config.Tech = testTech
	suite := fixtureSuite()
	suite.Tech = "freepdk45"

	res, err := r.Run(context.Background(), suite)
	require.ErrorIs(t, err, ErrTechMismatch)
	assert.Nil(t, res)
	assert.NoDirExists(t, filepath.Join(root, "amc_out", "freepdk45"))
}

func TestRunCancelledSkipsCases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	suite := fixtureSuite()
	r := newTestRunner(t, t.TempDir(), fixtureLibrary(t, 1.2))
	r.Update = true
	res, err := r.Run(ctx, suite)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	assert.Equal(t, allStatus(suite, StatusSkipped), statuses(res))
	for _, c := range res.Cases {
		assert.Equal(t, "not run: cancelled", c.Message, c.ID)
	}
	assert.Equal(t, len(suite.Cases), res.Summary.Skipped)
}

func TestRunCacheIgnoresDescriptionAndTags(t *testing.T) {
	root := t.TempDir()
	lib := fixtureLibrary(t, 1.2)
	suite := fixtureSuite()

	r := newTestRunner(t, root, lib)
	r.Update = true
	_, err := r.Run(context.Background(), suite)
	require.NoError(t, err)

	suite.Cases[0].Description = "reworded"
	suite.Cases[0].Tags = []string{"leaf"}
	r = newTestRunner(t, root, lib)
	res, err := r.Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, allStatus(suite, StatusCached), statuses(res))

	suite.Cases[2].Params = design.Params{"size": 3}
	res, err = r.Run(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, StatusFail, statuses(res)["wd_2"])
	assert.Equal(t, StatusCached, statuses(res)["inv_leaf"])
}

func TestRunReportsLibraryImpact(t *testing.T) {
	root := t.TempDir()
	suite := fixtureSuite()
	ctx := context.Background()

	r := newTestRunner(t, root, fixtureLibrary(t, 1.2))
	r.Update = true
	_, err := r.Run(ctx, suite)
	require.NoError(t, err)

	r = newTestRunner(t, root, fixtureLibrary(t, 1.4))
	res, err := r.Run(ctx, suite)
	require.NoError(t, err)

	require.NotNil(t, res.Impact)
	assert.Equal(t, []string{"pinv"}, res.Impact.Changed)
	assert.Empty(t, res.Impact.Added)
	assert.Empty(t, res.Impact.Removed)
	assert.Equal(t, []string{"inv_leaf", "pre2"}, res.Impact.Cases)

	got := statuses(res)
	assert.Equal(t, StatusFail, got["inv_leaf"])
	assert.Equal(t, StatusFail, got["pre2"])
	assert.Equal(t, StatusPass, got["wd_2"])
	assert.Equal(t, StatusPass, got["nand2_leaf"])

	text := FormatImpact(res.Impact)
	assert.Contains(t, text, "changed: pinv")
	assert.Contains(t, text, "affected cases (2): inv_leaf, pre2")

	// The snapshot was refreshed, so an unchanged library reports nothing.
	res, err = r.Run(ctx, suite)
	require.NoError(t, err)
	assert.Nil(t, res.Impact)
}

func TestRunTimingJSONL(t *testing.T) {
	root := t.TempDir()
	r := newTestRunner(t, root, fixtureLibrary(t, 1.2))
	r.Timing = true
	r.NoCache = true
	r.Update = true

	_, err := r.Run(context.Background(), fixtureSuite())
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(root, "amc_out", testTech, "timing.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	kinds := make(map[string]int)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev timingEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		kinds[ev.Kind]++
		assert.GreaterOrEqual(t, ev.EndMS, ev.StartMS)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, 4, kinds["case"])
	assert.Equal(t, 1, kinds["stage"])
}

func TestResolveTimingPath(t *testing.T) {
	env := map[string]string{}
	r := &Runner{Getenv: func(k string) string { return env[k] }}

	assert.Equal(t, "", r.resolveTimingPath("/out"))

	env["AMC_TIMING"] = "yes"
	assert.Equal(t, filepath.Join("/out", "timing.jsonl"), r.resolveTimingPath("/out"))

	r.TimingPath = "/tmp/t.jsonl"
	assert.Equal(t, "/tmp/t.jsonl", r.resolveTimingPath("/out"))

	env["AMC_TIMING_JSONL"] = "/env.jsonl"
	assert.Equal(t, "/env.jsonl", r.resolveTimingPath("/out"))
}

func TestWriteText(t *testing.T) {
	res := &RunResult{
		RunID: "run-1",
		Suite: "suites/basic.yaml",
		Tech:  testTech,
		Cases: []CaseResult{
			{ID: "inv_leaf", Generator: "inv", Status: StatusPass, DurationMS: 3},
			{ID: "wd_2", Generator: "write_driver_array", Status: StatusFail, Message: "output differs from golden (netlist)", Diff: "-a\n+b\n"},
		},
		Summary: Summary{Total: 2, Pass: 1, Fail: 1},
	}

	var quiet, verbose bytes.Buffer
	WriteText(&quiet, res, false)
	WriteText(&verbose, res, true)

	out := quiet.String()
	assert.Contains(t, out, "=== Regression: suites/basic.yaml (scn3me_subm) ===")
	assert.Contains(t, out, "✓ [pass] inv_leaf (inv) 3ms\n")
	assert.Contains(t, out, "✗ [fail] wd_2 (write_driver_array) 0ms - output differs from golden (netlist)")
	assert.Contains(t, out, "Failed:   1\n")
	assert.NotContains(t, out, "Skipped")
	assert.NotContains(t, out, "+b")
	assert.Contains(t, verbose.String(), "    +b\n")

	var js bytes.Buffer
	require.NoError(t, WriteJSON(&js, res))
	var back RunResult
	require.NoError(t, json.Unmarshal(js.Bytes(), &back))
	assert.Equal(t, res.Cases, back.Cases)
}

func TestWatcherDebouncesEdits(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []string, 4)
	w := &Watcher{
		Dirs:     []string{dir},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, paths []string) { got <- paths },
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	target := filepath.Join(dir, "cells.lef")
	ignored := filepath.Join(dir, "notes.txt")
	// Give the watcher time to register the directory.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(target, []byte("MACRO x\n"), 0o644)
		_ = os.WriteFile(ignored, []byte("x"), 0o644)
		select {
		case paths := <-got:
			assert.Equal(t, []string{target}, paths)
			return true
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.GreaterOrEqual(t, w.Triggers(), 1)
}
