package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/meshfit/estimator"
	"github.com/kwv/meshfit/mesh"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: "config.yaml"})

	cfg, err := app.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, mesh.ModelAffine, cfg.Model)
	assert.Equal(t, estimator.Median, cfg.Matcher.Statistic)
	assert.Equal(t, 8080, cfg.HTTP.Port)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: filepath.Join(t.TempDir(), "absent.yaml")})
	_, err := app.loadConfig()
	assert.ErrorContains(t, err, "config file not found")
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeFile(t, "meshfit.yaml", `
model: rigid
matcher:
  maxIterations: 5
  statistic: median
  retention: 0.8
mqtt:
  broker: tcp://file-broker:1883
http:
  port: 9000
`)

	tests := []struct {
		name  string
		opts  AppOptions
		check func(*testing.T, *mesh.Config)
	}{
		{
			name: "file only",
			opts: AppOptions{},
			check: func(t *testing.T, c *mesh.Config) {
				assert.Equal(t, mesh.ModelRigid, c.Model)
				assert.Equal(t, 5, c.Matcher.MaxIterations)
				assert.Equal(t, 0.8, c.Matcher.Retention)
				assert.Equal(t, 9000, c.HTTP.Port)
			},
		},
		{
			name: "statistic without retention uses its default",
			opts: AppOptions{Statistic: "mean"},
			check: func(t *testing.T, c *mesh.Config) {
				assert.Equal(t, estimator.Mean, c.Matcher.Statistic)
				assert.Equal(t, 1.0, c.Matcher.Retention)
			},
		},
		{
			name: "explicit flags",
			opts: AppOptions{
				Model:         "similarity",
				Statistic:     "percentile",
				Retention:     0.7,
				MaxIterations: 2,
				Ransac:        true,
				HttpPort:      9191,
				LogLevel:      "debug",
			},
			check: func(t *testing.T, c *mesh.Config) {
				assert.Equal(t, mesh.ModelSimilarity, c.Model)
				assert.Equal(t, estimator.Percentile, c.Matcher.Statistic)
				assert.Equal(t, 0.7, c.Matcher.Retention)
				assert.Equal(t, 2, c.Matcher.MaxIterations)
				assert.True(t, c.Ransac.Enabled)
				assert.Equal(t, 9191, c.HTTP.Port)
				assert.Equal(t, "debug", c.Logging.Level)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MQTT_BROKER", "")
			tt.opts.ConfigFile = path
			app := NewApp(&bytes.Buffer{})
			app.ApplyOptions(tt.opts)

			cfg, err := app.loadConfig()
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "meshfit.yaml", "mqtt:\n  broker: tcp://file-broker:1883\n")
	t.Setenv("MQTT_BROKER", "tcp://env-broker:1883")

	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: path})
	cfg, err := app.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "tcp://env-broker:1883", cfg.MQTT.Broker)
}

func TestLoadConfig_InvalidOverrides(t *testing.T) {
	tests := []struct {
		name string
		opts AppOptions
	}{
		{"unknown statistic", AppOptions{Statistic: "mode"}},
		{"unknown model", AppOptions{Model: "projective"}},
		{"retention out of range", AppOptions{Statistic: "median", Retention: 1.5}},
		{"negative iterations", AppOptions{MaxIterations: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.ConfigFile = "config.yaml"
			app := NewApp(&bytes.Buffer{})
			app.ApplyOptions(tt.opts)
			_, err := app.loadConfig()
			assert.Error(t, err)
		})
	}
}

func TestWriteOutcome(t *testing.T) {
	app := newTestApp(t)
	set, err := mesh.ParseCorrespondences([]byte(translationSetJSON))
	require.NoError(t, err)
	outcome, err := app.Solver.Solve(*set)
	require.NoError(t, err)
	require.True(t, outcome.OK)

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeOutcome(&buf, outcome, "json"))
		var decoded mesh.FitOutcome
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "survey-1", decoded.RequestID)
		assert.Len(t, decoded.Inliers, 4)
	})

	t.Run("geojson", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeOutcome(&buf, outcome, "geojson"))
		assert.Contains(t, buf.String(), `"FeatureCollection"`)
	})

	t.Run("svg", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeOutcome(&buf, outcome, "svg"))
		assert.Contains(t, buf.String(), "<svg")
	})

	for _, format := range []string{"png", "histogram"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeOutcome(&buf, outcome, format))
			_, err := png.Decode(&buf)
			assert.NoError(t, err)
		})
	}

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, writeOutcome(&bytes.Buffer{}, outcome, "pdf"))
	})
}

func TestRunFit(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	input := writeFile(t, "pairs.json", translationSetJSON)

	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: "config.yaml", Input: input, OutputFormat: "json", Statistic: "mean"})
	require.NoError(t, app.RunFit())

	var outcome mesh.FitOutcome
	require.NoError(t, json.Unmarshal(out.Bytes(), &outcome))
	assert.True(t, outcome.OK)
	assert.InDelta(t, 10, outcome.Transform.Tx, 1e-9)

	_, ok := app.Store.Get("survey-1")
	assert.True(t, ok)
}

func TestRunFit_OutputFile(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	input := writeFile(t, "pairs.json", translationSetJSON)
	output := filepath.Join(t.TempDir(), "plot.svg")

	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: "config.yaml", Input: input, OutputFile: output, OutputFormat: "svg"})
	require.NoError(t, app.RunFit())

	assert.Zero(t, out.Len(), "nothing goes to Out when a file is given")
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestRunFit_FailedFit(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	input := writeFile(t, "pairs.json", `{"model": "affine", "pairs": [
		{"id": 1, "source": {"x": 0, "y": 0}, "target": {"x": 1, "y": 1}}
	]}`)

	var out bytes.Buffer
	app := NewApp(&out)
	app.ApplyOptions(AppOptions{ConfigFile: "config.yaml", Input: input, OutputFormat: "json"})

	err := app.RunFit()
	assert.ErrorContains(t, err, "insufficient_data")
	assert.Contains(t, out.String(), `"ok": false`, "the failed outcome is still written")
}

func TestRunFit_MissingInput(t *testing.T) {
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: "config.yaml", Input: filepath.Join(t.TempDir(), "none.json")})
	assert.Error(t, app.RunFit())
}

func TestRunService_MqttWithoutBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")
	app := NewApp(&bytes.Buffer{})
	app.ApplyOptions(AppOptions{ConfigFile: "config.yaml", MqttMode: true})
	assert.ErrorContains(t, app.RunService(), "--mqtt requires")
}
